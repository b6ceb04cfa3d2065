package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"pagebuilder-backend-go/internal/middleware"
	"pagebuilder-backend-go/internal/pkg/response"
	"pagebuilder-backend-go/internal/session"
)

// SessionHandler exposes the current session value.
type SessionHandler struct{}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// GetSession handles GET /api/v1/session. A request without a session is
// answered as signed out without starting one.
func (h *SessionHandler) GetSession(c *gin.Context) {
	manager := middleware.SessionManager(c)
	if manager == nil {
		response.OK(c, session.Snapshot{State: session.StateUnauthenticated})
		return
	}
	response.OK(c, manager.Current())
}

// StreamSession handles GET /api/v1/session/stream. It sends the current
// value and then every change as a "session" server-sent event.
func (h *SessionHandler) StreamSession(c *gin.Context) {
	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	updates, cancel := manager.Watch()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("session", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// AdminHandler serves administrative views over live sessions.
type AdminHandler struct {
	sessions interface{ Sessions() []session.Info }
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(sessions interface{ Sessions() []session.Info }) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

// ListSessions handles GET /api/v1/admin/sessions.
// It lists the sessions live in this process. Only admins reach it.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	list := h.sessions.Sessions()
	response.OK(c, SessionsResponse{Sessions: list, Count: len(list)})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apierrors "pagebuilder-backend-go/internal/pkg/errors"
	"pagebuilder-backend-go/internal/pkg/response"
	"pagebuilder-backend-go/internal/session"
)

// Context keys set by the session middleware and the guards.
const (
	ContextSessionID = "sessionID"
	ContextManager   = "sessionManager"
	ContextUser      = "sessionUser"

	contextSessionBinding = "sessionBinding"
)

// errNoSession is returned by RotateSession when the request has no session.
var errNoSession = errors.New("request has no session")

// SessionSource resolves and issues browser sessions. *session.Registry
// satisfies it.
type SessionSource interface {
	// Resume returns the Manager of a session id the source issued, or nil
	// for any other id.
	Resume(ctx context.Context, sessionID string) (*session.Manager, error)
	// Create starts a session under a new id.
	Create() (string, *session.Manager, error)
	// Rotate moves a session to a new id and returns it.
	Rotate(ctx context.Context, sessionID string) (string, error)
}

// CookieConfig describes the browser session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	// MaxAge in seconds. Zero makes it a browser-session cookie.
	MaxAge int
}

type sessionBinding struct {
	source SessionSource
	cookie CookieConfig
	logger *zap.Logger
}

// Session attaches the caller's session Manager to the request when the
// session cookie names a session this service issued. Unknown or malformed
// values are ignored, so a client can never pick its own session id.
//
// No session is created here. Handlers that need one call EnsureSession, and
// read-only handlers treat a missing Manager as signed out.
func Session(source SessionSource, cookie CookieConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	binding := &sessionBinding{source: source, cookie: cookie, logger: logger}
	return func(c *gin.Context) {
		c.Set(contextSessionBinding, binding)

		sid, err := c.Cookie(cookie.Name)
		if err != nil || uuid.Validate(sid) != nil {
			c.Next()
			return
		}

		manager, err := source.Resume(c.Request.Context(), sid)
		if err != nil {
			binding.unavailable(c, sid, err)
			return
		}
		if manager == nil {
			logger.Debug("Ignoring unknown session id")
			c.Next()
			return
		}

		attach(c, sid, manager)
		c.Next()
	}
}

// EnsureSession returns the request's Manager. When the request has none, a
// new session is started and its cookie issued. On failure the response is
// already written and ok is false.
func EnsureSession(c *gin.Context) (manager *session.Manager, ok bool) {
	if manager := SessionManager(c); manager != nil {
		return manager, true
	}
	binding := bindingOf(c)
	if binding == nil {
		response.Error(c, apierrors.ErrInternal)
		return nil, false
	}

	sid, manager, err := binding.source.Create()
	if err != nil {
		binding.unavailable(c, "", err)
		return nil, false
	}
	binding.setCookie(c, sid)
	attach(c, sid, manager)
	return manager, true
}

// RotateSession moves the request's session to a new id and reissues the
// cookie. Handlers call it once a sign-in succeeded so an id known before
// authentication never carries the authenticated session.
func RotateSession(c *gin.Context) error {
	binding := bindingOf(c)
	sid := c.GetString(ContextSessionID)
	if binding == nil || sid == "" {
		return errNoSession
	}
	newID, err := binding.source.Rotate(c.Request.Context(), sid)
	if err != nil {
		return err
	}
	binding.setCookie(c, newID)
	c.Set(ContextSessionID, newID)
	return nil
}

// SessionManager returns the Manager attached by Session or EnsureSession, or nil.
func SessionManager(c *gin.Context) *session.Manager {
	m, _ := c.Get(ContextManager)
	manager, _ := m.(*session.Manager)
	return manager
}

func attach(c *gin.Context, sid string, manager *session.Manager) {
	c.Set(ContextSessionID, sid)
	c.Set(ContextManager, manager)
}

func bindingOf(c *gin.Context) *sessionBinding {
	v, _ := c.Get(contextSessionBinding)
	binding, _ := v.(*sessionBinding)
	return binding
}

func (b *sessionBinding) unavailable(c *gin.Context, sid string, err error) {
	if !errors.Is(err, session.ErrRegistryClosed) {
		b.logger.Error("Failed to load session", zap.String("session_id", sid), zap.Error(err))
	}
	c.Header("Retry-After", "1")
	response.Error(c, apierrors.ErrServiceUnavailable)
}

// setCookie issues the session cookie, replacing one set earlier in the same
// response.
func (b *sessionBinding) setCookie(c *gin.Context, sid string) {
	header := c.Writer.Header()
	prefix := b.cookie.Name + "="
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(b.cookie.Name, sid, b.cookie.MaxAge, "/", "", b.cookie.Secure, true)
}

package api

import (
	"github.com/gin-gonic/gin"

	"pagebuilder-backend-go/internal/core"
	"pagebuilder-backend-go/internal/middleware"
	"pagebuilder-backend-go/internal/models"
	"pagebuilder-backend-go/internal/pkg/response"
	"pagebuilder-backend-go/internal/session"
)

// UserHandler serves the signed-in user's profile.
type UserHandler struct {
	audit core.AuditService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(audit core.AuditService) *UserHandler {
	return &UserHandler{audit: audit}
}

// GetCurrentUserProfile handles GET /api/v1/users/me.
// It returns the profile of the signed-in user as loaded by RequireUser.
func (h *UserHandler) GetCurrentUserProfile(c *gin.Context) {
	response.OK(c, middleware.CurrentUser(c))
}

// UpdateCurrentUserProfile handles PATCH /api/v1/users/me. Only the display
// name and photo URL can change.
func (h *UserHandler) UpdateCurrentUserProfile(c *gin.Context) {
	var update models.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		bindError(c, err)
		return
	}
	manager := middleware.SessionManager(c)
	err := manager.UpdateUserProfile(c.Request.Context(), update)
	middleware.RecordAuthOperation(session.OpUpdateProfile, outcome(err))
	if err != nil {
		response.Error(c, toAPIError(err))
		return
	}

	user := manager.Current().User
	if user == nil {
		response.Unauthorized(c)
		return
	}
	var fields []string
	if update.DisplayName != nil {
		fields = append(fields, "displayName")
	}
	if update.PhotoURL != nil {
		fields = append(fields, "photoURL")
	}
	recordAudit(c, h.audit, models.AuditActionProfileUpdate, user.UID, map[string]interface{}{"fields": fields})
	response.OK(c, user)
}

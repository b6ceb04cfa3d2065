package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"pagebuilder-backend-go/internal/models"
	apierrors "pagebuilder-backend-go/internal/pkg/errors"
	"pagebuilder-backend-go/internal/pkg/response"
	"pagebuilder-backend-go/internal/session"
)

// DefaultSettleTimeout bounds how long a guard waits for a restoring session.
const DefaultSettleTimeout = 2 * time.Second

// Settled returns the first snapshot of m that is not loading, or the latest
// loading one when wait elapses or ctx is done.
func Settled(ctx context.Context, m *session.Manager, wait time.Duration) session.Snapshot {
	updates, cancel := m.Watch()
	defer cancel()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var snap session.Snapshot
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return snap
			}
			snap = s
			if !s.Loading {
				return s
			}
		case <-timer.C:
			return snap
		case <-ctx.Done():
			return snap
		}
	}
}

// RequireUser rejects requests without an authenticated session. While the
// session is still restoring it answers 503 with Retry-After. Without a
// session, or when signed out, it answers 401 pointing at loginPath.
func RequireUser(loginPath string, wait time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		unauthenticated := apierrors.ErrUnauthorized.WithDetails(map[string]string{"redirect": loginPath})
		manager := SessionManager(c)
		if manager == nil {
			response.Error(c, unauthenticated)
			return
		}
		snap := Settled(c.Request.Context(), manager, wait)
		if snap.Loading {
			c.Header("Retry-After", "1")
			response.Error(c, apierrors.ErrServiceUnavailable.WithMessage("Session is still loading"))
			return
		}
		if snap.User == nil {
			response.Error(c, unauthenticated)
			return
		}
		c.Set(ContextUser, snap.User)
		c.Next()
	}
}

// RequireRole rejects users without role. It must run after RequireUser.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			response.Unauthorized(c)
			return
		}
		if user.Role != role {
			response.Forbidden(c)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireUser, or nil when the route is
// not guarded.
func CurrentUser(c *gin.Context) *models.User {
	v, _ := c.Get(ContextUser)
	user, _ := v.(*models.User)
	return user
}

package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "pagebuilder-backend-go/internal/pkg/errors"
	"pagebuilder-backend-go/internal/pkg/response"
)

// RecoveryMiddleware returns a middleware that recovers from panics in later
// handlers. The panic is logged with its stack trace and the client receives
// a generic 500 Internal Server Error, unless a response was already written.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				if !c.Writer.Written() {
					response.Error(c, apierrors.ErrInternal)
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

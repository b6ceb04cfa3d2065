package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"pagebuilder-backend-go/internal/config"
	"pagebuilder-backend-go/internal/core"
	"pagebuilder-backend-go/internal/middleware"
	"pagebuilder-backend-go/internal/models"
	"pagebuilder-backend-go/internal/session"
)

// SessionRegistry is the registry view the routes need.
type SessionRegistry interface {
	middleware.SessionSource
	Sessions() []session.Info
}

// SetupRoutes registers all routes. Global middleware (logging, recovery,
// CORS, metrics) is applied by the caller.
func SetupRoutes(
	router *gin.Engine,
	appConfig *config.Config,
	logger *zap.Logger,
	registry SessionRegistry,
	auditService core.AuditService,
	googleOAuth *oauth2.Config,
) {
	cookie := middleware.CookieConfig{
		Name:   appConfig.SessionCookieName,
		Secure: appConfig.SessionCookieSecure,
		MaxAge: int(appConfig.SessionTokenTTL.Seconds()),
	}
	withSession := middleware.Session(registry, cookie, logger)
	requireUser := middleware.RequireUser(appConfig.LoginPath, middleware.DefaultSettleTimeout)

	authHandler := NewAuthHandler(auditService, googleOAuth, appConfig.ClientURL, appConfig.LoginPath, appConfig.SessionCookieSecure, logger)
	userHandler := NewUserHandler(auditService)
	sessionHandler := NewSessionHandler()
	adminHandler := NewAdminHandler(registry)

	apiV1 := router.Group("/api/v1", withSession)
	{
		apiV1.GET("/session", sessionHandler.GetSession)
		apiV1.GET("/session/stream", sessionHandler.StreamSession)

		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/sign-in", authHandler.SignIn)
			authGroup.POST("/sign-up", authHandler.SignUp)
			authGroup.GET("/google", authHandler.GoogleStart)
			authGroup.GET("/google/callback", authHandler.GoogleCallback)
			authGroup.POST("/sign-out", authHandler.SignOut)
			authGroup.POST("/password-reset", authHandler.PasswordReset)
		}

		usersGroup := apiV1.Group("/users", requireUser)
		{
			usersGroup.GET("/me", userHandler.GetCurrentUserProfile)
			usersGroup.PATCH("/me", userHandler.UpdateCurrentUserProfile)
		}

		adminGroup := apiV1.Group("/admin", requireUser, middleware.RequireRole(models.RoleAdmin))
		{
			adminGroup.GET("/sessions", adminHandler.ListSessions)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("API routes configured under /api/v1")
}

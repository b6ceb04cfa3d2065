package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"pagebuilder-backend-go/internal/api"
	"pagebuilder-backend-go/internal/config"
	"pagebuilder-backend-go/internal/core"
	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/events"
	"pagebuilder-backend-go/internal/identity"
	"pagebuilder-backend-go/internal/middleware"
	"pagebuilder-backend-go/internal/session"
)

func main() {
	if os.Getenv("GIN_MODE") != gin.ReleaseMode {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
	}

	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	zapLogger, err := newLogger(appConfig)
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInit()

	clients, err := db.InitFirebase(initCtx, appConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firebase Admin SDK", zap.Error(err))
	}
	defer clients.Close()

	var store db.DocumentStore
	if appConfig.DocumentStore == config.StoreMemory {
		zapLogger.Warn("Using the in-memory document store; user profiles are lost on restart")
		store = db.NewMemoryDocumentStore(nil)
	} else {
		store, err = db.NewFirestoreDocumentStore(clients.Firestore)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to create Firestore document store", zap.Error(err))
		}
	}
	userRepo := db.NewUserRepository(store, appConfig.UsersCollection)
	auditService := core.NewAuditService(db.NewAuditRepository(store, appConfig.AuditCollection), zapLogger)

	tokens, closeTokens := newTokenStore(initCtx, appConfig, zapLogger)
	defer closeTokens()

	var googleOAuth *oauth2.Config
	if appConfig.GoogleOAuthEnabled() {
		googleOAuth = identity.NewGoogleOAuthConfig(appConfig.GoogleOAuthClientID, appConfig.GoogleOAuthClientSecret, appConfig.GoogleOAuthRedirectURL)
	} else {
		zapLogger.Info("Google sign-in disabled: GOOGLE_OAUTH_* is not configured")
	}

	firebaseIdentity, err := identity.NewFirebase(initCtx, identity.FirebaseOptions{
		APIKey:        appConfig.FirebaseWebAPIKey,
		CheckInterval: appConfig.SessionCheckInterval,
		GoogleOAuth:   googleOAuth,
	}, clients.Auth, tokens, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize identity provider", zap.Error(err))
	}

	publisher := newPublisher(appConfig, zapLogger)
	defer publisher.Close()

	registry := session.NewRegistry(
		func(sessionID string) identity.Provider { return firebaseIdentity.ForSession(sessionID) },
		userRepo,
		tokens,
		appConfig.SessionIdleTimeout,
		zapLogger,
		session.WithNavigator(api.NewRequestNavigator(zapLogger)),
		session.WithRedirectPaths(appConfig.DashboardPath, appConfig.LandingPath),
		session.WithUsersCollection(appConfig.UsersCollection),
		session.WithConcealUnknownEmails(appConfig.PasswordResetConcealUnknown),
		session.WithProvisionHook(events.UserProvisionedHook(publisher, zapLogger)),
	)
	if err := middleware.RegisterSessionGauge(prometheus.DefaultRegisterer, registry); err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to register session metrics", zap.Error(err))
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go registry.Run(janitorCtx, appConfig.SessionIdleTimeout/2)

	if appConfig.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(appConfig.ClientURL))
	router.Use(middleware.Metrics())

	api.SetupRoutes(router, appConfig, zapLogger, registry, auditService, googleOAuth)

	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("Starting HTTP server", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Open SSE streams end when their managers close.
	stopJanitor()
	registry.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exiting gracefully.")
}

func newLogger(appConfig *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if appConfig.IsRelease() {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if appConfig.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(appConfig.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zapConfig.Level = level
	}
	return zapConfig.Build()
}

func newTokenStore(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (identity.TokenStore, func()) {
	if appConfig.TokenStore == config.TokenStoreMemory {
		logger.Warn("TOKEN_STORE=memory; sessions are kept in memory and lost on restart")
		return identity.NewMemoryTokenStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("CRITICAL_ERROR: Failed to connect to Redis", zap.String("addr", appConfig.RedisAddr), zap.Error(err))
	}
	key, err := appConfig.EncryptionKeyBytes()
	if err != nil {
		logger.Fatal("CRITICAL_ERROR: Invalid ENCRYPTION_KEY", zap.Error(err))
	}
	store, err := identity.NewRedisTokenStore(client, key, appConfig.SessionTokenTTL)
	if err != nil {
		logger.Fatal("CRITICAL_ERROR: Failed to create token store", zap.Error(err))
	}
	logger.Info("Session tokens stored in Redis", zap.String("addr", appConfig.RedisAddr))
	return store, func() { client.Close() }
}

func newPublisher(appConfig *config.Config, logger *zap.Logger) events.Publisher {
	if appConfig.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL is empty; user events are not published")
		return events.NoopPublisher{}
	}
	publisher, err := events.NewRabbitMQPublisher(appConfig.RabbitMQURL, appConfig.EventsQueue, logger)
	if err != nil {
		logger.Fatal("CRITICAL_ERROR: Failed to connect to RabbitMQ", zap.Error(err))
	}
	return publisher
}

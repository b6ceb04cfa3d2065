package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Document store drivers.
const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Token store drivers.
const (
	TokenStoreRedis  = "redis"
	TokenStoreMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `mapstructure:"PORT"`
	GinMode  string `mapstructure:"GIN_MODE"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	FirebaseWebAPIKey                string `mapstructure:"FIREBASE_WEB_API_KEY"`

	DocumentStore    string `mapstructure:"DOCUMENT_STORE"`
	UsersCollection  string `mapstructure:"USERS_COLLECTION"`
	AuditCollection  string `mapstructure:"AUDIT_COLLECTION"`
	EncryptionKey    string `mapstructure:"ENCRYPTION_KEY"` // Base64 encoded, 32 bytes once decoded
	ClientURL        string `mapstructure:"CLIENT_URL"`
	TokenStore       string `mapstructure:"TOKEN_STORE"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	EventsQueue      string `mapstructure:"EVENTS_QUEUE"`

	SessionCookieName    string        `mapstructure:"SESSION_COOKIE_NAME"`
	SessionCookieSecure  bool          `mapstructure:"SESSION_COOKIE_SECURE"`
	SessionIdleTimeout   time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	SessionTokenTTL      time.Duration `mapstructure:"SESSION_TOKEN_TTL"`
	SessionCheckInterval time.Duration `mapstructure:"SESSION_CHECK_INTERVAL"`

	GoogleOAuthClientID     string `mapstructure:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleOAuthClientSecret string `mapstructure:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleOAuthRedirectURL  string `mapstructure:"GOOGLE_OAUTH_REDIRECT_URL"`

	DashboardPath string `mapstructure:"DASHBOARD_PATH"`
	LandingPath   string `mapstructure:"LANDING_PATH"`
	LoginPath     string `mapstructure:"LOGIN_PATH"`

	// PasswordResetConcealUnknown hides "user not found" from password reset callers.
	PasswordResetConcealUnknown bool `mapstructure:"PASSWORD_RESET_CONCEAL_UNKNOWN"`
}

var envKeys = []string{
	"PORT", "GIN_MODE", "LOG_LEVEL",
	"FIREBASE_PROJECT_ID", "GOOGLE_APPLICATION_CREDENTIALS", "FIREBASE_SERVICE_ACCOUNT_JSON_BASE64", "FIREBASE_WEB_API_KEY",
	"DOCUMENT_STORE", "USERS_COLLECTION", "AUDIT_COLLECTION", "ENCRYPTION_KEY", "CLIENT_URL",
	"TOKEN_STORE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RABBITMQ_URL", "EVENTS_QUEUE",
	"SESSION_COOKIE_NAME", "SESSION_COOKIE_SECURE", "SESSION_IDLE_TIMEOUT", "SESSION_TOKEN_TTL", "SESSION_CHECK_INTERVAL",
	"GOOGLE_OAUTH_CLIENT_ID", "GOOGLE_OAUTH_CLIENT_SECRET", "GOOGLE_OAUTH_REDIRECT_URL",
	"DASHBOARD_PATH", "LANDING_PATH", "LOGIN_PATH",
	"PASSWORD_RESET_CONCEAL_UNKNOWN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DOCUMENT_STORE", StoreFirestore)
	v.SetDefault("USERS_COLLECTION", "users")
	v.SetDefault("AUDIT_COLLECTION", "auditLogs")
	v.SetDefault("TOKEN_STORE", TokenStoreRedis)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EVENTS_QUEUE", "pagebuilder.user-events")
	v.SetDefault("SESSION_COOKIE_NAME", "pb_session")
	v.SetDefault("SESSION_COOKIE_SECURE", true)
	v.SetDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	v.SetDefault("SESSION_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("SESSION_CHECK_INTERVAL", time.Minute)
	v.SetDefault("DASHBOARD_PATH", "/dashboard")
	v.SetDefault("LANDING_PATH", "/")
	v.SetDefault("LOGIN_PATH", "/auth/login")
	v.SetDefault("PASSWORD_RESET_CONCEAL_UNKNOWN", false)
}

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.FirebaseWebAPIKey == "" {
		return errors.New("FIREBASE_WEB_API_KEY is required")
	}
	switch c.DocumentStore {
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when DOCUMENT_STORE=firestore")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("DOCUMENT_STORE must be %q or %q, got %q", StoreFirestore, StoreMemory, c.DocumentStore)
	}
	switch c.TokenStore {
	case TokenStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when TOKEN_STORE=redis")
		}
	case TokenStoreMemory:
	default:
		return fmt.Errorf("TOKEN_STORE must be %q or %q, got %q", TokenStoreRedis, TokenStoreMemory, c.TokenStore)
	}
	if c.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY is required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if c.ClientURL == "" {
		return errors.New("CLIENT_URL is required")
	}
	if c.SessionIdleTimeout <= 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionCheckInterval <= 0 {
		return errors.New("SESSION_CHECK_INTERVAL must be positive")
	}
	if c.SessionTokenTTL <= c.SessionIdleTimeout {
		return fmt.Errorf("SESSION_TOKEN_TTL (%s) must exceed SESSION_IDLE_TIMEOUT (%s)", c.SessionTokenTTL, c.SessionIdleTimeout)
	}
	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY and checks it is an AES-256 key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ENCRYPTION_KEY from base64: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must be a 32-byte key (AES-256), after base64 decoding")
	}
	return key, nil
}

// GoogleOAuthEnabled reports whether the Google sign-in flow is configured.
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleOAuthClientID != "" && c.GoogleOAuthClientSecret != "" && c.GoogleOAuthRedirectURL != ""
}

// IsRelease reports whether the server runs in gin release mode.
func (c *Config) IsRelease() bool {
	return strings.EqualFold(c.GinMode, "release")
}

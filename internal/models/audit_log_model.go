package models

import "time"

// Audit actions recorded by the API layer.
const (
	AuditActionSignIn        = "USER_SIGN_IN"
	AuditActionSignUp        = "USER_SIGN_UP"
	AuditActionGoogleSignIn  = "USER_GOOGLE_SIGN_IN"
	AuditActionSignOut       = "USER_SIGN_OUT"
	AuditActionPasswordReset = "USER_PASSWORD_RESET"
	AuditActionProfileUpdate = "USER_PROFILE_UPDATE"
)

// AuditLog represents an audit trail event.
type AuditLog struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	UserID     string                 `json:"userId"`           // Who performed the action, empty when unknown
	Action     string                 `json:"action"`           // e.g. USER_SIGN_IN
	TargetType string                 `json:"targetType,omitempty"`
	TargetID   string                 `json:"targetId,omitempty"`
	IPAddress  string                 `json:"ipAddress,omitempty"`
	UserAgent  string                 `json:"userAgent,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

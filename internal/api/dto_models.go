package api

import (
	"pagebuilder-backend-go/internal/models"
	"pagebuilder-backend-go/internal/session"
)

// AuthResponse is returned by operations that establish a session.
type AuthResponse struct {
	User     *models.User `json:"user"`
	Redirect string       `json:"redirect,omitempty"`
}

// SuccessResponse is a generic structure for simple success messages.
type SuccessResponse struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// SessionsResponse lists live browser sessions.
type SessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

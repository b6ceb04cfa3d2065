package session

import (
	"context"
	"errors"
	"fmt"

	"pagebuilder-backend-go/internal/identity"
)

// AuthErrorKind lets callers branch on the failure class without matching messages.
type AuthErrorKind string

const (
	KindInvalidArgument   AuthErrorKind = "invalid_argument"
	KindInvalidCredential AuthErrorKind = "invalid_credential"
	KindEmailInUse        AuthErrorKind = "email_in_use"
	KindWeakPassword      AuthErrorKind = "weak_password"
	KindUserNotFound      AuthErrorKind = "user_not_found"
	KindUserDisabled      AuthErrorKind = "user_disabled"
	KindPopupClosed       AuthErrorKind = "popup_closed"
	KindNetwork           AuthErrorKind = "network"
	KindRateLimited       AuthErrorKind = "rate_limited"
	KindSessionExpired    AuthErrorKind = "session_expired"
	KindStore             AuthErrorKind = "store"
	KindUnknown           AuthErrorKind = "unknown"
)

// Operation names used in errors, audit entries and metrics.
const (
	OpSignIn         = "signIn"
	OpSignUp         = "signUp"
	OpGoogleSignIn   = "signInWithGoogle"
	OpSignOut        = "signOut"
	OpResetPassword  = "resetPassword"
	OpUpdateProfile  = "updateUserProfile"
	OpRestoreSession = "restoreSession"
)

var genericMessages = map[string]string{
	OpSignIn:         "Failed to sign in",
	OpSignUp:         "Failed to create account",
	OpGoogleSignIn:   "Failed to sign in with Google",
	OpSignOut:        "Failed to sign out",
	OpResetPassword:  "Failed to send password reset email",
	OpUpdateProfile:  "Failed to update profile",
	OpRestoreSession: "Failed to restore session",
}

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("session manager is closed")

// AuthError is returned by every Manager operation.
type AuthError struct {
	Kind            AuthErrorKind
	Op              string
	ProviderMessage string
	Err             error
}

func (e *AuthError) Error() string {
	if e.ProviderMessage != "" {
		return e.ProviderMessage
	}
	if msg, ok := genericMessages[e.Op]; ok {
		return msg
	}
	return "Authentication failed"
}

func (e *AuthError) Unwrap() error { return e.Err }

// KindOf returns the kind of an AuthError in err's chain, or KindUnknown.
func KindOf(err error) AuthErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// StoreError is a user document read or write failure.
type StoreError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s document %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

var providerKinds = map[identity.ErrorCode]AuthErrorKind{
	identity.CodeInvalidArgument:     KindInvalidArgument,
	identity.CodeInvalidEmail:        KindInvalidArgument,
	identity.CodeInvalidCredential:   KindInvalidCredential,
	identity.CodeEmailInUse:          KindEmailInUse,
	identity.CodeWeakPassword:        KindWeakPassword,
	identity.CodeUserNotFound:        KindUserNotFound,
	identity.CodeUserDisabled:        KindUserDisabled,
	identity.CodePopupClosed:         KindPopupClosed,
	identity.CodeNetwork:             KindNetwork,
	identity.CodeRateLimited:         KindRateLimited,
	identity.CodeSessionExpired:      KindSessionExpired,
	identity.CodeOperationNotAllowed: KindUnknown,
	identity.CodeUnknown:             KindUnknown,
}

// wrapError converts any failure inside op into an *AuthError.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return &AuthError{Kind: KindStore, Op: op, Err: err}
	}
	var pe *identity.ProviderError
	if errors.As(err, &pe) {
		kind, ok := providerKinds[pe.Code]
		if !ok {
			kind = KindUnknown
		}
		return &AuthError{Kind: kind, Op: op, ProviderMessage: pe.Message, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{Kind: KindNetwork, Op: op, Err: err}
	}
	return &AuthError{Kind: KindUnknown, Op: op, Err: err}
}

func invalidArgument(op, message string) error {
	return &AuthError{Kind: KindInvalidArgument, Op: op, ProviderMessage: message}
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	CodeInvalidArgument     ErrorCode = "invalid_argument"
	CodeInvalidCredential   ErrorCode = "invalid_credential"
	CodeInvalidEmail        ErrorCode = "invalid_email"
	CodeEmailInUse          ErrorCode = "email_in_use"
	CodeWeakPassword        ErrorCode = "weak_password"
	CodeUserNotFound        ErrorCode = "user_not_found"
	CodeUserDisabled        ErrorCode = "user_disabled"
	CodePopupClosed         ErrorCode = "popup_closed"
	CodeOperationNotAllowed ErrorCode = "operation_not_allowed"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeSessionExpired      ErrorCode = "session_expired"
	CodeNetwork             ErrorCode = "network"
	CodeUnknown             ErrorCode = "unknown"
)

// ProviderError is a classified identity provider failure.
type ProviderError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewError creates a ProviderError with the given code and message.
func NewError(code ErrorCode, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// CodeOf returns the code of a ProviderError in err's chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// Identity Toolkit error messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
var toolkitCodes = map[string]ErrorCode{
	"EMAIL_EXISTS":                   CodeEmailInUse,
	"WEAK_PASSWORD":                  CodeWeakPassword,
	"EMAIL_NOT_FOUND":                CodeUserNotFound,
	"USER_NOT_FOUND":                 CodeUserNotFound,
	"INVALID_PASSWORD":               CodeInvalidCredential,
	"INVALID_LOGIN_CREDENTIALS":      CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":           CodeInvalidCredential,
	"INVALID_EMAIL":                  CodeInvalidEmail,
	"MISSING_EMAIL":                  CodeInvalidArgument,
	"MISSING_PASSWORD":               CodeInvalidArgument,
	"USER_DISABLED":                  CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER":    CodeRateLimited,
	"OPERATION_NOT_ALLOWED":          CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":        CodeOperationNotAllowed,
	"TOKEN_EXPIRED":                  CodeSessionExpired,
	"INVALID_ID_TOKEN":               CodeSessionExpired,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": CodeSessionExpired,
}

// humanMessages are shown instead of the raw Identity Toolkit code.
var humanMessages = map[ErrorCode]string{
	CodeEmailInUse:        "The email address is already in use by another account.",
	CodeWeakPassword:      "The password is too weak.",
	CodeUserNotFound:      "There is no user record corresponding to this email.",
	CodeInvalidCredential: "The email or password is invalid.",
	CodeInvalidEmail:      "The email address is badly formatted.",
	CodeUserDisabled:      "The user account has been disabled.",
	CodeRateLimited:       "Too many attempts. Please try again later.",
	CodeSessionExpired:    "The session has expired. Please sign in again.",
}

// classify converts an error from the Google APIs, Firebase Admin SDK or
// oauth2 into a ProviderError. Nil stays nil.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		raw := gerr.Message
		if raw == "" && len(gerr.Errors) > 0 {
			raw = gerr.Errors[0].Message
		}
		token := strings.TrimSpace(strings.SplitN(raw, ":", 2)[0])
		code, ok := toolkitCodes[token]
		if !ok {
			code = CodeUnknown
			if gerr.Code >= http.StatusInternalServerError {
				code = CodeNetwork
			}
		}
		msg := humanMessages[code]
		if msg == "" {
			msg = raw
		}
		return &ProviderError{Code: code, Message: msg, Err: err}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
			return &ProviderError{Code: CodeSessionExpired, Message: humanMessages[CodeSessionExpired], Err: err}
		}
		return &ProviderError{Code: CodeNetwork, Message: "The identity provider is unreachable.", Err: err}
	}

	switch {
	case auth.IsIDTokenRevoked(err), auth.IsIDTokenExpired(err), auth.IsIDTokenInvalid(err):
		return &ProviderError{Code: CodeSessionExpired, Message: humanMessages[CodeSessionExpired], Err: err}
	case auth.IsUserDisabled(err):
		return &ProviderError{Code: CodeUserDisabled, Message: humanMessages[CodeUserDisabled], Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &ProviderError{Code: CodeNetwork, Message: "The identity provider did not respond in time.", Err: err}
	}

	return &ProviderError{Code: CodeNetwork, Message: fmt.Sprintf("identity provider request failed: %v", err), Err: err}
}

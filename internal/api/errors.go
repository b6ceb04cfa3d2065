package api

import (
	"errors"
	"net/http"

	apierrors "pagebuilder-backend-go/internal/pkg/errors"
	"pagebuilder-backend-go/internal/session"
)

var kindStatus = map[session.AuthErrorKind]int{
	session.KindInvalidArgument:   http.StatusBadRequest,
	session.KindInvalidCredential: http.StatusUnauthorized,
	session.KindEmailInUse:        http.StatusConflict,
	session.KindWeakPassword:      http.StatusBadRequest,
	session.KindUserNotFound:      http.StatusNotFound,
	session.KindUserDisabled:      http.StatusForbidden,
	session.KindPopupClosed:       http.StatusBadRequest,
	session.KindRateLimited:       http.StatusTooManyRequests,
	session.KindNetwork:           http.StatusBadGateway,
	session.KindSessionExpired:    http.StatusUnauthorized,
	session.KindStore:             http.StatusInternalServerError,
	session.KindUnknown:           http.StatusInternalServerError,
}

// toAPIError renders a session operation failure. The message is the
// user-facing AuthError text, never the wrapped cause.
func toAPIError(err error) *apierrors.APIError {
	var ae *session.AuthError
	if !errors.As(err, &ae) {
		return apierrors.ErrInternal
	}
	status, ok := kindStatus[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &apierrors.APIError{
		Code:       string(ae.Kind),
		Message:    ae.Error(),
		StatusCode: status,
		Details:    map[string]string{"operation": ae.Op},
	}
}

// outcome is the metrics label of an operation result.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(session.KindOf(err))
}

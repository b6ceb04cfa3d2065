package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"email exists", &googleapi.Error{Code: 400, Message: "EMAIL_EXISTS"}, CodeEmailInUse},
		{"weak password with detail", &googleapi.Error{Code: 400, Message: "WEAK_PASSWORD : Password should be at least 6 characters"}, CodeWeakPassword},
		{"email not found", &googleapi.Error{Code: 400, Message: "EMAIL_NOT_FOUND"}, CodeUserNotFound},
		{"invalid password", &googleapi.Error{Code: 400, Message: "INVALID_PASSWORD"}, CodeInvalidCredential},
		{"invalid login credentials", &googleapi.Error{Code: 400, Message: "INVALID_LOGIN_CREDENTIALS"}, CodeInvalidCredential},
		{"user disabled", &googleapi.Error{Code: 400, Message: "USER_DISABLED"}, CodeUserDisabled},
		{"rate limited", &googleapi.Error{Code: 400, Message: "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled"}, CodeRateLimited},
		{"message in error items", &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Message: "INVALID_EMAIL"}}}, CodeInvalidEmail},
		{"unknown client error", &googleapi.Error{Code: 400, Message: "SOMETHING_NEW"}, CodeUnknown},
		{"server error", &googleapi.Error{Code: 503, Message: "backend unavailable"}, CodeNetwork},
		{"wrapped googleapi error", fmt.Errorf("call: %w", &googleapi.Error{Code: 400, Message: "EMAIL_EXISTS"}), CodeEmailInUse},
		{"refresh rejected", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}}, CodeSessionExpired},
		{"refresh server error", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 502}}, CodeNetwork},
		{"deadline", context.DeadlineExceeded, CodeNetwork},
		{"transport failure", errors.New("dial tcp: connection refused"), CodeNetwork},
		{"already classified", NewError(CodePopupClosed, "closed"), CodePopupClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(classify(tt.err)))
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassify_HumanMessage(t *testing.T) {
	err := classify(&googleapi.Error{Code: 400, Message: "EMAIL_EXISTS"})
	assert.Equal(t, "The email address is already in use by another account.", err.Error())

	err = classify(&googleapi.Error{Code: 400, Message: "SOMETHING_NEW : details"})
	assert.Equal(t, "SOMETHING_NEW : details", err.Error())
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &ProviderError{Code: CodeNetwork, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, CodeUnknown, CodeOf(cause))
}

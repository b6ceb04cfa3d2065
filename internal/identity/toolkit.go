package identity

import (
	"context"
	"errors"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// issuedTokens is what the Identity Toolkit returns for a successful sign-in.
type issuedTokens struct {
	UID          string
	IDToken      string
	RefreshToken string
}

// passwordAPI is the subset of the Identity Toolkit REST API used for
// end-user flows. The Admin SDK cannot sign users in, so these calls go
// through the public relying party endpoints.
type passwordAPI interface {
	VerifyPassword(ctx context.Context, email, password string) (*issuedTokens, error)
	SignUp(ctx context.Context, email, password string) (*issuedTokens, error)
	SendPasswordReset(ctx context.Context, email string) error
	SetDisplayName(ctx context.Context, idToken, displayName string) error
	VerifyAssertion(ctx context.Context, googleIDToken, requestURI string) (*issuedTokens, error)
}

// tokenRefresher exchanges a refresh token for a new ID token.
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*issuedTokens, error)
}

type identityToolkitAPI struct {
	service *identitytoolkit.Service
}

func newIdentityToolkitAPI(ctx context.Context, apiKey string, opts ...option.ClientOption) (*identityToolkitAPI, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &identityToolkitAPI{service: svc}, nil
}

func (a *identityToolkitAPI) VerifyPassword(ctx context.Context, email, password string) (*issuedTokens, error) {
	resp, err := a.service.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return &issuedTokens{UID: resp.LocalId, IDToken: resp.IdToken, RefreshToken: resp.RefreshToken}, nil
}

func (a *identityToolkitAPI) SignUp(ctx context.Context, email, password string) (*issuedTokens, error) {
	resp, err := a.service.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if resp.IdToken == "" || resp.RefreshToken == "" {
		// Older projects do not return tokens from signupNewUser.
		return a.VerifyPassword(ctx, email, password)
	}
	return &issuedTokens{UID: resp.LocalId, IDToken: resp.IdToken, RefreshToken: resp.RefreshToken}, nil
}

func (a *identityToolkitAPI) SendPasswordReset(ctx context.Context, email string) error {
	_, err := a.service.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Email:       email,
		RequestType: "PASSWORD_RESET",
	}).Context(ctx).Do()
	return err
}

func (a *identityToolkitAPI) SetDisplayName(ctx context.Context, idToken, displayName string) error {
	_, err := a.service.Relyingparty.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:     idToken,
		DisplayName: displayName,
	}).Context(ctx).Do()
	return err
}

func (a *identityToolkitAPI) VerifyAssertion(ctx context.Context, googleIDToken, requestURI string) (*issuedTokens, error) {
	postBody := url.Values{
		"id_token":   {googleIDToken},
		"providerId": {string(ProviderGoogle)},
	}.Encode()
	resp, err := a.service.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:           postBody,
		RequestUri:         requestURI,
		ReturnSecureToken:  true,
		ReturnRefreshToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, NewError(CodeInvalidCredential, resp.ErrorMessage)
	}
	return &issuedTokens{UID: resp.LocalId, IDToken: resp.IdToken, RefreshToken: resp.RefreshToken}, nil
}

const secureTokenURL = "https://securetoken.googleapis.com/v1/token"

// secureTokenRefresher uses the Secure Token service, which speaks the
// standard OAuth2 refresh_token grant.
type secureTokenRefresher struct {
	config *oauth2.Config
}

func newSecureTokenRefresher(apiKey string) *secureTokenRefresher {
	return &secureTokenRefresher{config: &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  secureTokenURL + "?key=" + url.QueryEscape(apiKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}}
}

func (r *secureTokenRefresher) Refresh(ctx context.Context, refreshToken string) (*issuedTokens, error) {
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("secure token response has no id_token")
	}
	uid, _ := tok.Extra("user_id").(string)
	return &issuedTokens{UID: uid, IDToken: idToken, RefreshToken: tok.RefreshToken}, nil
}

// NewGoogleOAuthConfig returns the OAuth2 client used for Google sign-in.
// The same config builds the consent URL and exchanges the returned code.
func NewGoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

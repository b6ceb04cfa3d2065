// Package identity defines the identity provider contract consumed by the
// session manager and its Firebase implementation.
package identity

import "context"

// ProviderKind names an OAuth identity provider.
type ProviderKind string

// ProviderGoogle is the Firebase provider ID for Google sign-in.
const ProviderGoogle ProviderKind = "google.com"

// Identity is the provider-issued account as seen by this service.
// Empty DisplayName or PhotoURL means the provider has none.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

// OAuthGrant is the result of the OAuth consent round trip.
// Error is set when the user dismissed the consent screen.
type OAuthGrant struct {
	Code        string
	RedirectURI string
	Error       string
}

// IdentityProfile holds the identity profile fields that can be updated.
type IdentityProfile struct {
	DisplayName string
}

// SessionCallback receives session state changes. A nil identity means no
// active session; err is set when the provider could not determine the state.
type SessionCallback func(id *Identity, err error)

// Provider is the external identity service.
type Provider interface {
	// ObserveSession registers cb for session changes. The first notification
	// reports the restored session. The returned function unsubscribes.
	ObserveSession(cb SessionCallback) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	CreateAccountWithPassword(ctx context.Context, email, password string) (*Identity, error)
	SignInWithOAuth(ctx context.Context, kind ProviderKind, grant OAuthGrant) (*Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	UpdateIdentityProfile(ctx context.Context, id *Identity, profile IdentityProfile) error
}

// Rebinder is implemented by providers whose state is keyed by the browser
// session id. Rebind re-keys that state when the session id is rotated.
type Rebinder interface {
	Rebind(ctx context.Context, sessionID string) error
}

// Package identitytest provides an in-memory identity.Provider for tests.
package identitytest

import (
	"context"
	"fmt"
	"sync"

	"pagebuilder-backend-go/internal/identity"
)

// Op names a provider operation for error injection and blocking.
type Op string

const (
	OpSignIn        Op = "signIn"
	OpSignUp        Op = "signUp"
	OpOAuth         Op = "oauth"
	OpSignOut       Op = "signOut"
	OpPasswordReset Op = "passwordReset"
	OpUpdateProfile Op = "updateProfile"
	OpRebind        Op = "rebind"
)

type account struct {
	password string
	identity identity.Identity
}

// Provider is a fake identity.Provider. By default each new observer receives
// the current session asynchronously, like a real provider restoring state.
type Provider struct {
	mu             sync.Mutex
	observers      map[int]identity.SessionCallback
	nextObserver   int
	current        *identity.Identity
	manualRestore  bool
	accounts       map[string]*account
	googleAccounts map[string]identity.Identity
	errs           map[Op]error
	gates          map[Op]chan struct{}
	calls          map[Op]int
	nextUID        int
	resetEmails    []string
	rebinds        []string
}

// Option configures a fake Provider.
type Option func(*Provider)

// WithManualRestore stops ObserveSession from reporting the initial state.
// Tests then call Emit to deliver it.
func WithManualRestore() Option {
	return func(p *Provider) { p.manualRestore = true }
}

// WithSignedIn starts the fake with an active session for id.
func WithSignedIn(id identity.Identity) Option {
	return func(p *Provider) {
		copied := id
		p.current = &copied
	}
}

func New(opts ...Option) *Provider {
	p := &Provider{
		observers:      make(map[int]identity.SessionCallback),
		accounts:       make(map[string]*account),
		googleAccounts: make(map[string]identity.Identity),
		errs:           make(map[Op]error),
		gates:          make(map[Op]chan struct{}),
		calls:          make(map[Op]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddAccount registers an email/password account and returns its identity.
func (p *Provider) AddAccount(email, password, displayName string) identity.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextUID++
	id := identity.Identity{ID: fmt.Sprintf("uid-%d", p.nextUID), Email: email, DisplayName: displayName}
	p.accounts[email] = &account{password: password, identity: id}
	return id
}

// AddGoogleAccount makes code a valid authorization code for id.
func (p *Provider) AddGoogleAccount(code string, id identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.googleAccounts[code] = id
}

// SetError makes op fail with err until cleared with a nil err.
func (p *Provider) SetError(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Block makes calls of op wait until release is called or their context ends.
func (p *Provider) Block(op Op) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gates[op] = ch
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gates[op] == ch {
				delete(p.gates, op)
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Observers returns the number of active observers.
func (p *Provider) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

// ResetEmails returns the addresses password reset emails were sent to.
func (p *Provider) ResetEmails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resetEmails...)
}

// Emit delivers a passive session change to all observers.
func (p *Provider) Emit(id *identity.Identity, err error) {
	p.mu.Lock()
	if err == nil {
		p.current = copyIdentity(id)
	}
	callbacks := p.callbacksLocked()
	p.mu.Unlock()
	for _, cb := range callbacks {
		cb(copyIdentity(id), err)
	}
}

func (p *Provider) ObserveSession(cb identity.SessionCallback) func() {
	p.mu.Lock()
	id := p.nextObserver
	p.nextObserver++
	p.observers[id] = cb
	initial := copyIdentity(p.current)
	manual := p.manualRestore
	p.mu.Unlock()

	if !manual {
		go cb(initial, nil)
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	if err := p.enter(ctx, OpSignIn); err != nil {
		return nil, err
	}
	p.mu.Lock()
	acc, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok {
		return nil, identity.NewError(identity.CodeUserNotFound, "There is no user record corresponding to this email.")
	}
	if acc.password != password {
		return nil, identity.NewError(identity.CodeInvalidCredential, "The email or password is invalid.")
	}
	return p.establish(acc.identity), nil
}

func (p *Provider) CreateAccountWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	if err := p.enter(ctx, OpSignUp); err != nil {
		return nil, err
	}
	p.mu.Lock()
	_, exists := p.accounts[email]
	p.mu.Unlock()
	if exists {
		return nil, identity.NewError(identity.CodeEmailInUse, "The email address is already in use by another account.")
	}
	if len(password) < 6 {
		return nil, identity.NewError(identity.CodeWeakPassword, "The password is too weak.")
	}
	id := p.AddAccount(email, password, "")
	return p.establish(id), nil
}

func (p *Provider) SignInWithOAuth(ctx context.Context, kind identity.ProviderKind, grant identity.OAuthGrant) (*identity.Identity, error) {
	if err := p.enter(ctx, OpOAuth); err != nil {
		return nil, err
	}
	if kind != identity.ProviderGoogle {
		return nil, identity.NewError(identity.CodeOperationNotAllowed, "unsupported provider")
	}
	if grant.Error == "access_denied" {
		return nil, identity.NewError(identity.CodePopupClosed, "The sign-in window was closed before completing.")
	}
	p.mu.Lock()
	id, ok := p.googleAccounts[grant.Code]
	p.mu.Unlock()
	if !ok {
		return nil, identity.NewError(identity.CodeInvalidCredential, "The authorization code is invalid or expired.")
	}
	return p.establish(id), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.enter(ctx, OpSignOut); err != nil {
		return err
	}
	p.Emit(nil, nil)
	return nil
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	if err := p.enter(ctx, OpPasswordReset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; !ok {
		return identity.NewError(identity.CodeUserNotFound, "There is no user record corresponding to this email.")
	}
	p.resetEmails = append(p.resetEmails, email)
	return nil
}

func (p *Provider) UpdateIdentityProfile(ctx context.Context, id *identity.Identity, profile identity.IdentityProfile) error {
	if err := p.enter(ctx, OpUpdateProfile); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || id == nil || p.current.ID != id.ID {
		return identity.NewError(identity.CodeSessionExpired, "The session has expired. Please sign in again.")
	}
	p.current.DisplayName = profile.DisplayName
	for _, acc := range p.accounts {
		if acc.identity.ID == id.ID {
			acc.identity.DisplayName = profile.DisplayName
		}
	}
	return nil
}

// Rebind records the new session id.
func (p *Provider) Rebind(ctx context.Context, sessionID string) error {
	if err := p.enter(ctx, OpRebind); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebinds = append(p.rebinds, sessionID)
	return nil
}

// Rebinds returns the session ids passed to Rebind, oldest first.
func (p *Provider) Rebinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rebinds...)
}

// enter records the call, waits on a gate and returns an injected error.
func (p *Provider) enter(ctx context.Context, op Op) error {
	p.mu.Lock()
	p.calls[op]++
	gate := p.gates[op]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return identity.NewError(identity.CodeNetwork, ctx.Err().Error())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[op]
}

func (p *Provider) establish(id identity.Identity) *identity.Identity {
	p.Emit(&id, nil)
	return copyIdentity(&id)
}

func (p *Provider) callbacksLocked() []identity.SessionCallback {
	callbacks := make([]identity.SessionCallback, 0, len(p.observers))
	for _, cb := range p.observers {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

func copyIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

var (
	_ identity.Provider = (*Provider)(nil)
	_ identity.Rebinder = (*Provider)(nil)
)

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// TokenVerifier checks Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseOptions configures the Firebase identity backend.
type FirebaseOptions struct {
	APIKey string
	// CheckInterval is how often an observed session re-validates its tokens.
	CheckInterval time.Duration
	// GoogleOAuth enables Google sign-in when set.
	GoogleOAuth *oauth2.Config
}

// Firebase holds the clients shared by all browser sessions.
type Firebase struct {
	api           passwordAPI
	verifier      TokenVerifier
	refresher     tokenRefresher
	oauth         *oauth2.Config
	tokens        TokenStore
	checkInterval time.Duration
	logger        *zap.Logger
	isExpired     func(error) bool
}

// NewFirebase creates the Firebase identity backend.
func NewFirebase(ctx context.Context, opts FirebaseOptions, verifier TokenVerifier, tokens TokenStore, logger *zap.Logger, clientOpts ...option.ClientOption) (*Firebase, error) {
	if opts.APIKey == "" {
		return nil, errors.New("firebase web API key is required")
	}
	if verifier == nil || tokens == nil {
		return nil, errors.New("token verifier and token store are required")
	}
	api, err := newIdentityToolkitAPI(ctx, opts.APIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit client: %w", err)
	}
	return newFirebase(api, verifier, newSecureTokenRefresher(opts.APIKey), opts.GoogleOAuth, tokens, opts.CheckInterval, logger), nil
}

func newFirebase(api passwordAPI, verifier TokenVerifier, refresher tokenRefresher, oauth *oauth2.Config, tokens TokenStore, checkInterval time.Duration, logger *zap.Logger) *Firebase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &Firebase{
		api:           api,
		verifier:      verifier,
		refresher:     refresher,
		oauth:         oauth,
		tokens:        tokens,
		checkInterval: checkInterval,
		logger:        logger,
		isExpired:     auth.IsIDTokenExpired,
	}
}

// ForSession returns the Provider bound to one browser session.
func (f *Firebase) ForSession(sessionID string) *FirebaseSession {
	return &FirebaseSession{
		backend:   f,
		sessionID: sessionID,
		logger:    f.logger.With(zap.String("session_id", sessionID)),
		observers: make(map[int]SessionCallback),
	}
}

// verify checks an ID token and builds the token set from its claims.
func (f *Firebase) verify(ctx context.Context, issued *issuedTokens) (*TokenSet, error) {
	tok, err := f.verifier.VerifyIDTokenAndCheckRevoked(ctx, issued.IDToken)
	if err != nil {
		return nil, err
	}
	return &TokenSet{
		UID:          tok.UID,
		Email:        claimString(tok.Claims, "email"),
		DisplayName:  claimString(tok.Claims, "name"),
		PhotoURL:     claimString(tok.Claims, "picture"),
		IDToken:      issued.IDToken,
		RefreshToken: issued.RefreshToken,
		ExpiresAt:    time.Unix(tok.Expires, 0),
	}, nil
}

// validate re-verifies stored tokens, refreshing them once the ID token expired.
func (f *Firebase) validate(ctx context.Context, stored *TokenSet) (*TokenSet, bool, error) {
	current, err := f.verify(ctx, &issuedTokens{UID: stored.UID, IDToken: stored.IDToken, RefreshToken: stored.RefreshToken})
	if err == nil {
		if current.DisplayName == "" {
			current.DisplayName = stored.DisplayName
		}
		return current, false, nil
	}
	if !f.isExpired(err) {
		return nil, false, classify(err)
	}

	issued, err := f.refresher.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		return nil, false, classify(err)
	}
	if issued.RefreshToken == "" {
		issued.RefreshToken = stored.RefreshToken
	}
	refreshed, err := f.verify(ctx, issued)
	if err != nil {
		return nil, false, classify(err)
	}
	if refreshed.DisplayName == "" {
		refreshed.DisplayName = stored.DisplayName
	}
	return refreshed, true, nil
}

func claimString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// FirebaseSession is the Provider for one browser session. Its tokens are
// persisted in the TokenStore under the session ID.
type FirebaseSession struct {
	backend   *Firebase
	sessionID string
	logger    *zap.Logger

	mu           sync.Mutex
	observers    map[int]SessionCallback
	nextObserver int
	stopWatch    context.CancelFunc

	// emitMu orders state changes, token writes and notifications. It is
	// never acquired while mu is held. sessionID is guarded by it.
	emitMu     sync.Mutex
	tokens     *TokenSet
	generation uint64
	restored   bool
}

// ObserveSession implements Provider. The first observer starts the watcher,
// which restores the persisted session and then re-validates it periodically.
func (s *FirebaseSession) ObserveSession(cb SessionCallback) func() {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = cb
	start := s.stopWatch == nil
	var ctx context.Context
	if start {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		s.stopWatch = cancel
	}
	s.mu.Unlock()

	s.emitMu.Lock()
	if start {
		s.restored = false
		go s.watch(ctx)
	} else if s.restored {
		current := s.currentIdentityLocked()
		go cb(current, nil)
	}
	s.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers, id)
			if len(s.observers) == 0 && s.stopWatch != nil {
				s.stopWatch()
				s.stopWatch = nil
			}
		})
	}
}

func (s *FirebaseSession) watch(ctx context.Context) {
	s.restore(ctx)

	ticker := time.NewTicker(s.backend.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *FirebaseSession) restore(ctx context.Context) {
	gen, sessionID := s.currentKey()

	stored, err := s.backend.tokens.Load(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to load persisted session", zap.Error(err))
		s.transition(ctx, gen, nil, NewError(CodeNetwork, "failed to restore session"), keepTokens)
		return
	}
	if stored == nil {
		s.transition(ctx, gen, nil, nil, keepTokens)
		return
	}

	current, refreshed, err := s.backend.validate(ctx, stored)
	if err != nil {
		if CodeOf(err) == CodeNetwork {
			s.logger.Warn("Could not validate persisted session", zap.Error(err))
			s.transition(ctx, gen, nil, err, keepTokens)
			return
		}
		s.logger.Info("Persisted session is no longer valid", zap.String("uid", stored.UID), zap.Error(err))
		s.transition(ctx, gen, nil, nil, writeTokens)
		return
	}
	write := keepTokens
	if refreshed {
		write = writeTokens
	}
	s.transition(ctx, gen, current, nil, write)
}

// check re-validates the active session. Transient failures keep it;
// revoked, disabled or unrefreshable sessions end it.
func (s *FirebaseSession) check(ctx context.Context) {
	s.emitMu.Lock()
	stored := s.tokens
	gen := s.generation
	s.emitMu.Unlock()
	if stored == nil {
		return
	}

	current, refreshed, err := s.backend.validate(ctx, stored)
	if err != nil {
		if CodeOf(err) == CodeNetwork {
			s.logger.Warn("Session check failed, keeping session", zap.Error(err))
			return
		}
		s.logger.Info("Session ended by identity provider", zap.String("uid", stored.UID), zap.Error(err))
		s.transition(ctx, gen, nil, nil, writeTokens)
		return
	}
	if !refreshed {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.generation != gen {
		return
	}
	s.saveLocked(ctx, current)
	changed := *current.Identity() != *stored.Identity()
	s.tokens = current
	if changed {
		s.notifyLocked(current.Identity(), nil)
	}
}

func (s *FirebaseSession) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	issued, err := s.backend.api.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, classify(err)
	}
	return s.establish(ctx, issued)
}

func (s *FirebaseSession) CreateAccountWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	issued, err := s.backend.api.SignUp(ctx, email, password)
	if err != nil {
		return nil, classify(err)
	}
	return s.establish(ctx, issued)
}

// SignInWithOAuth completes the Google authorization code flow and signs the
// resulting Google identity into Firebase.
func (s *FirebaseSession) SignInWithOAuth(ctx context.Context, kind ProviderKind, grant OAuthGrant) (*Identity, error) {
	if kind != ProviderGoogle {
		return nil, NewError(CodeOperationNotAllowed, fmt.Sprintf("sign-in provider %q is not supported", kind))
	}
	if grant.Error != "" {
		if grant.Error == "access_denied" {
			return nil, NewError(CodePopupClosed, "The sign-in window was closed before completing.")
		}
		return nil, NewError(CodeInvalidCredential, "Google sign-in failed: "+grant.Error)
	}
	if s.backend.oauth == nil {
		return nil, NewError(CodeOperationNotAllowed, "Google sign-in is not configured.")
	}
	if grant.Code == "" {
		return nil, NewError(CodeInvalidArgument, "authorization code is required")
	}

	tok, err := s.backend.oauth.Exchange(ctx, grant.Code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, &ProviderError{Code: CodeInvalidCredential, Message: "The authorization code is invalid or expired.", Err: err}
		}
		return nil, classify(err)
	}
	googleIDToken, _ := tok.Extra("id_token").(string)
	if googleIDToken == "" {
		return nil, NewError(CodeInvalidCredential, "Google did not return an ID token.")
	}

	requestURI := grant.RedirectURI
	if requestURI == "" {
		requestURI = s.backend.oauth.RedirectURL
	}
	issued, err := s.backend.api.VerifyAssertion(ctx, googleIDToken, requestURI)
	if err != nil {
		return nil, classify(err)
	}
	return s.establish(ctx, issued)
}

// SignOut drops the persisted tokens and notifies observers.
func (s *FirebaseSession) SignOut(ctx context.Context) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if err := s.backend.tokens.Delete(ctx, s.sessionID); err != nil {
		return &ProviderError{Code: CodeNetwork, Message: "failed to clear session", Err: err}
	}
	s.generation++
	s.tokens = nil
	s.notifyLocked(nil, nil)
	return nil
}

func (s *FirebaseSession) SendPasswordReset(ctx context.Context, email string) error {
	return classify(s.backend.api.SendPasswordReset(ctx, email))
}

// UpdateIdentityProfile sets the display name on the identity of this session.
func (s *FirebaseSession) UpdateIdentityProfile(ctx context.Context, id *Identity, profile IdentityProfile) error {
	s.emitMu.Lock()
	current := s.tokens
	s.emitMu.Unlock()
	if current == nil || id == nil || current.UID != id.ID {
		return NewError(CodeSessionExpired, humanMessages[CodeSessionExpired])
	}
	if err := s.backend.api.SetDisplayName(ctx, current.IDToken, profile.DisplayName); err != nil {
		return classify(err)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.tokens != nil && s.tokens.UID == id.ID {
		updated := *s.tokens
		updated.DisplayName = profile.DisplayName
		s.tokens = &updated
		s.saveLocked(ctx, &updated)
	}
	return nil
}

// Rebind moves the persisted tokens to sessionID. Later writes use the new
// key and the old key is removed.
func (s *FirebaseSession) Rebind(ctx context.Context, sessionID string) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	previous := s.sessionID
	if sessionID == previous {
		return nil
	}
	if s.tokens != nil {
		if err := s.backend.tokens.Save(ctx, sessionID, s.tokens); err != nil {
			return &ProviderError{Code: CodeNetwork, Message: "failed to move session", Err: err}
		}
	}
	s.sessionID = sessionID
	if err := s.backend.tokens.Delete(ctx, previous); err != nil {
		s.logger.Warn("Failed to delete tokens of the previous session id", zap.Error(err))
	}
	s.logger.Debug("Session id rotated", zap.String("new_session_id", sessionID))
	return nil
}

// establish persists and announces a new session. The write happens under
// emitMu so the stored tokens always belong to the last notified identity.
func (s *FirebaseSession) establish(ctx context.Context, issued *issuedTokens) (*Identity, error) {
	tokens, err := s.backend.verify(ctx, issued)
	if err != nil {
		return nil, classify(err)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if err := s.backend.tokens.Save(ctx, s.sessionID, tokens); err != nil {
		return nil, &ProviderError{Code: CodeNetwork, Message: "failed to persist session", Err: err}
	}
	s.generation++
	s.tokens = tokens
	s.notifyLocked(tokens.Identity(), nil)
	return tokens.Identity(), nil
}

type tokenWrite int

const (
	keepTokens tokenWrite = iota
	writeTokens
)

// transition applies a watcher result unless an operation changed the
// session since gen was read. With writeTokens the store is updated to
// match: tokens are saved, or deleted when tokens is nil.
func (s *FirebaseSession) transition(ctx context.Context, gen uint64, tokens *TokenSet, err error, write tokenWrite) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.restored = true
	if s.generation != gen {
		return
	}
	if write == writeTokens {
		if tokens == nil {
			s.deleteLocked(ctx)
		} else {
			s.saveLocked(ctx, tokens)
		}
	}
	s.generation++
	s.tokens = tokens
	if tokens == nil {
		s.notifyLocked(nil, err)
		return
	}
	s.notifyLocked(tokens.Identity(), err)
}

func (s *FirebaseSession) saveLocked(ctx context.Context, tokens *TokenSet) {
	if err := s.backend.tokens.Save(ctx, s.sessionID, tokens); err != nil {
		s.logger.Warn("Failed to persist session tokens", zap.Error(err))
	}
}

func (s *FirebaseSession) deleteLocked(ctx context.Context) {
	if err := s.backend.tokens.Delete(ctx, s.sessionID); err != nil {
		s.logger.Warn("Failed to delete session tokens", zap.Error(err))
	}
}

func (s *FirebaseSession) currentKey() (uint64, string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.generation, s.sessionID
}

func (s *FirebaseSession) currentIdentityLocked() *Identity {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.Identity()
}

// notifyLocked must be called with emitMu held. Callbacks must not block.
func (s *FirebaseSession) notifyLocked(id *Identity, err error) {
	s.mu.Lock()
	callbacks := make([]SessionCallback, 0, len(s.observers))
	for _, cb := range s.observers {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	for _, cb := range callbacks {
		if id == nil {
			cb(nil, err)
			continue
		}
		copied := *id
		cb(&copied, err)
	}
}

var (
	_ Provider = (*FirebaseSession)(nil)
	_ Rebinder = (*FirebaseSession)(nil)
)

package session

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/identity"
	"pagebuilder-backend-go/internal/identity/identitytest"
	"pagebuilder-backend-go/internal/models"
)

func strPtr(s string) *string { return &s }

func TestManager_InitialSnapshotIsLoading(t *testing.T) {
	f := newFixture(t, identitytest.New(identitytest.WithManualRestore()))

	snap := f.manager.Current()
	assert.Equal(t, StateInitializing, snap.State)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)
}

func TestManager_RestoreWithoutIdentity(t *testing.T) {
	f := newFixture(t, identitytest.New(identitytest.WithManualRestore()))
	f.manager.Start()
	assert.Equal(t, StateInitializing, f.manager.Current().State)

	f.provider.Emit(nil, nil)

	snap := waitForState(t, f.manager, func(s Snapshot) bool { return s.State != StateInitializing })
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)
}

func TestManager_RestoreProvisionsMissingDocument(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider).started(t)

	snap := f.manager.Current()
	require.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, "u1", snap.User.UID)

	doc := f.store.doc(t, "u1")
	assert.Equal(t, map[string]interface{}{
		"uid":         "u1",
		"email":       "a@b.com",
		"displayName": nil,
		"photoURL":    nil,
		"role":        "user",
		"plan":        "free",
		"createdAt":   baseTime,
		"updatedAt":   baseTime,
	}, doc)
}

func TestManager_RestoreKeepsExistingDocument(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider)
	require.NoError(t, f.store.SetDocument(context.Background(), "users", "u1", map[string]interface{}{
		"uid": "u1", "email": "a@b.com", "role": "admin", "plan": "business",
		"createdAt": baseTime, "updatedAt": baseTime,
	}, false))
	f.started(t)

	snap := f.manager.Current()
	require.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, models.RoleAdmin, snap.User.Role)
	assert.Equal(t, models.PlanBusiness, snap.User.Plan)
	creates, _ := f.store.writes()
	assert.Equal(t, 1, creates, "only the fixture write")
}

func TestManager_RestoreStoreFailureEndsUnauthenticated(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider)
	f.store.setErrors(errors.New("firestore unavailable"), nil)
	f.started(t)

	snap := f.manager.Current()
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.False(t, snap.Loading)
}

func TestManager_RestoreProviderErrorEndsUnauthenticated(t *testing.T) {
	f := newFixture(t, identitytest.New(identitytest.WithManualRestore()))
	f.manager.Start()

	f.provider.Emit(nil, identity.NewError(identity.CodeNetwork, "offline"))

	snap := waitForState(t, f.manager, func(s Snapshot) bool { return !s.Loading })
	assert.Equal(t, StateUnauthenticated, snap.State)
}

func TestManager_PassiveRevocation(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider).started(t)
	require.Equal(t, StateAuthenticated, f.manager.Current().State)

	f.provider.Emit(nil, nil)

	waitForState(t, f.manager, func(s Snapshot) bool { return s.State == StateUnauthenticated })
}

func TestManager_SignUpSignOutSignInKeepsUID(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	ctx := context.Background()

	created, err := f.manager.SignUp(ctx, "ana@example.com", "secret1", "Ana")
	require.NoError(t, err)
	require.NoError(t, f.manager.SignOut(ctx))
	assert.Equal(t, StateUnauthenticated, f.manager.Current().State)

	signedIn, err := f.manager.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, created.UID, signedIn.UID)
	assert.Equal(t, created.UID, f.manager.Current().User.UID)
}

func TestManager_SignUpAlwaysUsesDefaultRoleAndPlan(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)

	user, err := f.manager.SignUp(context.Background(), "ana@example.com", "secret1", "Ana")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, models.PlanFree, user.Plan)

	doc := f.store.doc(t, user.UID)
	assert.Equal(t, "user", doc["role"])
	assert.Equal(t, "free", doc["plan"])
	assert.Equal(t, "Ana", doc["displayName"])

	snap := waitForState(t, f.manager, func(s Snapshot) bool { return s.User != nil })
	require.NotNil(t, snap.User.DisplayName)
	assert.Equal(t, "Ana", *snap.User.DisplayName)
}

func TestSignUpInputCannotCarryRoleOrPlan(t *testing.T) {
	for _, typ := range []reflect.Type{reflect.TypeOf(models.SignUpRequest{}), reflect.TypeOf(models.ProfileUpdate{})} {
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			name := strings.ToLower(field.Name + " " + field.Tag.Get("json"))
			assert.NotContains(t, name, "role", "%s.%s", typ.Name(), field.Name)
			assert.NotContains(t, name, "plan", "%s.%s", typ.Name(), field.Name)
		}
	}
}

func TestManager_SignUpRedirectsAndValidates(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)

	_, err := f.manager.SignUp(context.Background(), "ana@example.com", "secret1", " ")
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	assert.Equal(t, 0, f.provider.Calls(identitytest.OpSignUp))

	_, err = f.manager.SignUp(context.Background(), "ana@example.com", "secret1", "Ana")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultDashboardPath}, f.navigator.Paths())
}

func TestManager_SignUpErrors(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	f.provider.AddAccount("taken@example.com", "secret1", "")

	_, err := f.manager.SignUp(context.Background(), "taken@example.com", "secret1", "Ana")
	assert.Equal(t, KindEmailInUse, KindOf(err))
	assert.Equal(t, "The email address is already in use by another account.", err.Error())

	_, err = f.manager.SignUp(context.Background(), "new@example.com", "123", "Ana")
	assert.Equal(t, KindWeakPassword, KindOf(err))
	assert.Equal(t, StateUnauthenticated, f.manager.Current().State)
}

func TestManager_SignIn(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	acc := f.provider.AddAccount("ana@example.com", "secret1", "Ana")

	user, err := f.manager.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, user.UID)

	snap := f.manager.Current()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading)
	assert.Equal(t, []string{DefaultDashboardPath}, f.navigator.Paths())
}

func TestManager_SignInFailures(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	f.provider.AddAccount("ana@example.com", "secret1", "Ana")

	_, err := f.manager.SignIn(context.Background(), "ana@example.com", "wrong")
	assert.Equal(t, KindInvalidCredential, KindOf(err))

	_, err = f.manager.SignIn(context.Background(), "", "secret1")
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	f.provider.SetError(identitytest.OpSignIn, errors.New("socket closed"))
	_, err = f.manager.SignIn(context.Background(), "ana@example.com", "secret1")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, "Failed to sign in", err.Error())

	assert.Equal(t, StateUnauthenticated, f.manager.Current().State)
	assert.Empty(t, f.navigator.Paths())
}

func TestManager_SignInStoreFailure(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	f.provider.AddAccount("ana@example.com", "secret1", "Ana")
	f.store.setErrors(errors.New("deadline exceeded"), nil)

	_, err := f.manager.SignIn(context.Background(), "ana@example.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "users", storeErr.Collection)
	assert.Equal(t, "get", storeErr.Op)
}

func TestManager_GoogleSignInProvisionsOnce(t *testing.T) {
	var hookCalls int
	var hookMu sync.Mutex
	provider := identitytest.New()
	f := newFixture(t, provider, WithProvisionHook(func(ctx context.Context, user models.User) {
		hookMu.Lock()
		defer hookMu.Unlock()
		hookCalls++
	})).started(t)
	provider.AddGoogleAccount("code-1", identity.Identity{ID: "g1", Email: "gina@example.com", DisplayName: "Gina", PhotoURL: "https://img/g.png"})

	user, err := f.manager.SignInWithGoogle(context.Background(), identity.OAuthGrant{Code: "code-1"})
	require.NoError(t, err)
	assert.Equal(t, "g1", user.UID)
	require.NotNil(t, user.PhotoURL)
	assert.Equal(t, "https://img/g.png", *user.PhotoURL)

	// A custom field set out-of-band must survive a second sign-in.
	require.NoError(t, f.store.MemoryDocumentStore.SetDocument(context.Background(), "users", "g1",
		map[string]interface{}{"plan": "business"}, true))

	user, err = f.manager.SignInWithGoogle(context.Background(), identity.OAuthGrant{Code: "code-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanBusiness, user.Plan)

	creates, _ := f.store.writes()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, f.store.Len("users"))
	hookMu.Lock()
	assert.Equal(t, 1, hookCalls)
	hookMu.Unlock()
}

func TestManager_GoogleSignInPopupClosed(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)

	_, err := f.manager.SignInWithGoogle(context.Background(), identity.OAuthGrant{Error: "access_denied"})
	assert.Equal(t, KindPopupClosed, KindOf(err))
	assert.Equal(t, StateUnauthenticated, f.manager.Current().State)
}

func TestManager_SignOut(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider).started(t)

	require.NoError(t, f.manager.SignOut(context.Background()))

	snap := f.manager.Current()
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.Nil(t, snap.User)
	assert.Equal(t, []string{DefaultLandingPath}, f.navigator.Paths())
}

func TestManager_SignOutFailureKeepsSession(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider).started(t)
	before := f.manager.Current()
	require.Equal(t, StateAuthenticated, before.State)

	stubErr := identity.NewError(identity.CodeNetwork, "network request failed")
	provider.SetError(identitytest.OpSignOut, stubErr)

	err := f.manager.SignOut(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.ErrorIs(t, err, stubErr)

	assert.Equal(t, before, f.manager.Current())
	assert.Empty(t, f.navigator.Paths())
}

func TestManager_ResetPassword(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	f.provider.AddAccount("ana@example.com", "secret1", "")

	require.NoError(t, f.manager.ResetPassword(context.Background(), "ana@example.com"))
	assert.Equal(t, []string{"ana@example.com"}, f.provider.ResetEmails())

	err := f.manager.ResetPassword(context.Background(), "ghost@example.com")
	assert.Equal(t, KindUserNotFound, KindOf(err))

	err = f.manager.ResetPassword(context.Background(), "")
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	assert.Equal(t, StateUnauthenticated, f.manager.Current().State)
}

func TestManager_ResetPasswordConcealsUnknownEmail(t *testing.T) {
	f := newFixture(t, identitytest.New(), WithConcealUnknownEmails(true)).started(t)

	assert.NoError(t, f.manager.ResetPassword(context.Background(), "ghost@example.com"))

	f.provider.SetError(identitytest.OpPasswordReset, identity.NewError(identity.CodeRateLimited, "slow down"))
	err := f.manager.ResetPassword(context.Background(), "ghost@example.com")
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestManager_UpdateUserProfileChangesOnlyDisplayName(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider)
	require.NoError(t, f.store.SetDocument(context.Background(), "users", "u1", map[string]interface{}{
		"uid": "u1", "email": "a@b.com", "displayName": "Old", "photoURL": "https://img/1.png",
		"role": "admin", "plan": "starter", "createdAt": baseTime, "updatedAt": baseTime,
	}, false))
	f.started(t)
	before := f.store.doc(t, "u1")

	f.clock.Advance(time.Hour)
	require.NoError(t, f.manager.UpdateUserProfile(context.Background(), models.ProfileUpdate{DisplayName: strPtr("X")}))

	after := f.store.doc(t, "u1")
	assert.Equal(t, "X", after["displayName"])
	assert.Equal(t, baseTime.Add(time.Hour), after["updatedAt"])
	for key, value := range before {
		if key == "displayName" || key == "updatedAt" {
			continue
		}
		assert.Equal(t, value, after[key], key)
	}
	assert.Len(t, after, len(before))

	snap := f.manager.Current()
	require.NotNil(t, snap.User.DisplayName)
	assert.Equal(t, "X", *snap.User.DisplayName)
	assert.Equal(t, models.RoleAdmin, snap.User.Role)
	assert.Equal(t, baseTime.Add(time.Hour), snap.User.UpdatedAt)
}

func TestManager_UpdateUserProfileUnauthenticatedIsNoop(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)

	err := f.manager.UpdateUserProfile(context.Background(), models.ProfileUpdate{DisplayName: strPtr("X")})
	assert.NoError(t, err)

	creates, merges := f.store.writes()
	assert.Zero(t, creates)
	assert.Zero(t, merges)
}

func TestManager_UpdateUserProfileFallbackKeepsWrittenValues(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com", DisplayName: "Ana"}))
	f := newFixture(t, provider).started(t)

	f.store.setErrors(errors.New("read timeout"), nil)
	err := f.manager.UpdateUserProfile(context.Background(), models.ProfileUpdate{DisplayName: strPtr("")})
	require.NoError(t, err)

	assert.Equal(t, "", f.store.doc(t, "u1")["displayName"])
	user := f.manager.Current().User
	require.NotNil(t, user.DisplayName)
	assert.Equal(t, "", *user.DisplayName)
}

func TestManager_ProvisionedUserCarriesStoreTimestamps(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	managerClock := func() time.Time { return baseTime.Add(time.Hour) }
	f := newFixture(t, provider, WithClock(managerClock)).started(t)

	user := waitForState(t, f.manager, func(s Snapshot) bool { return s.State == StateAuthenticated }).User
	assert.Equal(t, baseTime, user.CreatedAt)
	assert.Equal(t, baseTime, user.UpdatedAt)
	assert.Equal(t, f.store.doc(t, "u1")["createdAt"], user.CreatedAt)
}

func TestManager_UpdateUserProfileWriteFailureKeepsCache(t *testing.T) {
	provider := identitytest.New(identitytest.WithSignedIn(identity.Identity{ID: "u1", Email: "a@b.com"}))
	f := newFixture(t, provider).started(t)
	before := f.manager.Current()

	f.store.setErrors(nil, errors.New("permission denied"))
	err := f.manager.UpdateUserProfile(context.Background(), models.ProfileUpdate{DisplayName: strPtr("X")})
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Equal(t, "Failed to update profile", err.Error())
	assert.Equal(t, before, f.manager.Current())
}

func TestManager_SlowEarlierSignInDoesNotOverwriteLater(t *testing.T) {
	f := newFixture(t, identitytest.New()).started(t)
	first := f.provider.AddAccount("first@example.com", "secret1", "")
	second := f.provider.AddAccount("second@example.com", "secret1", "")

	release := f.store.block(first.ID)
	defer release()

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.manager.SignIn(context.Background(), "first@example.com", "secret1")
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return f.provider.Calls(identitytest.OpSignIn) == 1 }, time.Second, time.Millisecond)
	// Let the first provider call resolve before the second one starts.
	time.Sleep(20 * time.Millisecond)

	_, err := f.manager.SignIn(context.Background(), "second@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, f.manager.Current().User.UID)

	release()
	require.NoError(t, <-firstDone)

	// Give the passive queue time to drain; stale results must be dropped.
	time.Sleep(50 * time.Millisecond)
	snap := f.manager.Current()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, second.ID, snap.User.UID)
}

// holdingProvider delays the return of SignInWithPassword for held emails
// after the wrapped provider has already announced the new session.
type holdingProvider struct {
	*identitytest.Provider
	hold map[string]chan struct{}
}

func (p *holdingProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := p.Provider.SignInWithPassword(ctx, email, password)
	if gate, ok := p.hold[email]; ok {
		<-gate
	}
	return id, err
}

func TestManager_SignInResultFollowsProviderAnnouncementOrder(t *testing.T) {
	inner := identitytest.New()
	first := inner.AddAccount("first@example.com", "secret1", "")
	second := inner.AddAccount("second@example.com", "secret1", "")
	gate := make(chan struct{})
	provider := &holdingProvider{Provider: inner, hold: map[string]chan struct{}{"first@example.com": gate}}

	clock := newTestClock()
	m := NewManager(provider, db.NewUserRepository(newSpyStore(clock), ""), WithClock(clock.Now))
	t.Cleanup(m.Close)
	m.Start()
	waitForState(t, m, func(s Snapshot) bool { return !s.Loading })

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.SignIn(context.Background(), "first@example.com", "secret1")
		firstDone <- err
	}()
	// The provider announced the first session; its call has not returned yet.
	waitForState(t, m, func(s Snapshot) bool { return s.User != nil && s.User.UID == first.ID })

	_, err := m.SignIn(context.Background(), "second@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, m.Current().User.UID)

	close(gate)
	require.NoError(t, <-firstDone)

	time.Sleep(50 * time.Millisecond)
	snap := m.Current()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, second.ID, snap.User.UID)
}

func TestManager_WatchDeliversLatest(t *testing.T) {
	f := newFixture(t, identitytest.New(identitytest.WithManualRestore()))
	f.manager.Start()

	updates, cancel := f.manager.Watch()
	defer cancel()

	initial := <-updates
	assert.Equal(t, StateInitializing, initial.State)
	assert.True(t, initial.Loading)

	f.provider.Emit(nil, nil)
	select {
	case snap := <-updates:
		assert.Equal(t, StateUnauthenticated, snap.State)
		assert.False(t, snap.Loading)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestManager_Close(t *testing.T) {
	provider := identitytest.New(identitytest.WithManualRestore())
	f := newFixture(t, provider)
	f.manager.Start()
	require.Eventually(t, func() bool { return provider.Observers() == 1 }, time.Second, time.Millisecond)

	updates, _ := f.manager.Watch()
	<-updates

	f.manager.Close()
	assert.Equal(t, 0, provider.Observers())

	_, open := <-updates
	assert.False(t, open, "watch channels are closed")

	provider.Emit(&identity.Identity{ID: "u1", Email: "a@b.com"}, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateInitializing, f.manager.Current().State)

	_, err := f.manager.SignIn(context.Background(), "a@b.com", "secret1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, provider.Calls(identitytest.OpSignIn))

	f.manager.Close()
}

func TestManager_StartIsIdempotent(t *testing.T) {
	provider := identitytest.New()
	f := newFixture(t, provider)
	f.manager.Start()
	f.manager.Start()

	waitForState(t, f.manager, func(s Snapshot) bool { return !s.Loading })
	assert.Equal(t, 1, provider.Observers())
}

func TestManager_RedirectPathsAreConfigurable(t *testing.T) {
	f := newFixture(t, identitytest.New(), WithRedirectPaths("/app", "/bye")).started(t)
	f.provider.AddAccount("ana@example.com", "secret1", "")

	_, err := f.manager.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.manager.SignOut(context.Background()))

	assert.Equal(t, []string{"/app", "/bye"}, f.navigator.Paths())
}

func TestAuthError_Messages(t *testing.T) {
	err := &AuthError{Kind: KindNetwork, Op: OpSignOut}
	assert.Equal(t, "Failed to sign out", err.Error())

	err = &AuthError{Kind: KindInvalidCredential, Op: OpSignIn, ProviderMessage: "The email or password is invalid."}
	assert.Equal(t, "The email or password is invalid.", err.Error())

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindNetwork, KindOf(wrapError(OpSignIn, context.DeadlineExceeded)))
}

// Package session holds the per-browser-session state machine that joins the
// identity provider and the user document store into one current user.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/identity"
	"pagebuilder-backend-go/internal/models"
)

// State is the lifecycle state of a session.
type State string

const (
	StateInitializing    State = "INITIALIZING"
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateAuthenticated   State = "AUTHENTICATED"
)

// Snapshot is the observable current-session value.
type Snapshot struct {
	User    *models.User `json:"user"`
	Loading bool         `json:"loading"`
	State   State        `json:"state"`
}

func (s Snapshot) clone() Snapshot {
	s.User = s.User.Clone()
	return s
}

// Navigator receives redirect side effects. Redirects are fire-and-forget.
type Navigator interface {
	Redirect(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Redirect(ctx context.Context, path string) { f(ctx, path) }

// ProvisionHook is called after a user document was created for a new identity.
type ProvisionHook func(ctx context.Context, user models.User)

const (
	DefaultDashboardPath = "/dashboard"
	DefaultLandingPath   = "/"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNavigator sets where redirect side effects are sent. Without one,
// redirects are dropped.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.navigator = n }
}

// WithClock replaces time.Now for timestamps the Manager sets itself.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the Manager's logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithProvisionHook registers hook to run after each user document the
// Manager creates.
func WithProvisionHook(hook ProvisionHook) Option {
	return func(m *Manager) { m.provisionHook = hook }
}

// WithRedirectPaths overrides where successful sign-in and sign-out redirect to.
func WithRedirectPaths(dashboard, landing string) Option {
	return func(m *Manager) {
		if dashboard != "" {
			m.dashboardPath = dashboard
		}
		if landing != "" {
			m.landingPath = landing
		}
	}
}

// WithUsersCollection sets the collection name reported in StoreErrors.
func WithUsersCollection(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.collection = name
		}
	}
}

// WithConcealUnknownEmails makes ResetPassword succeed for unknown addresses.
func WithConcealUnknownEmails(conceal bool) Option {
	return func(m *Manager) { m.concealUnknown = conceal }
}

func withUIDLocks(locks *keyedMutex) Option {
	return func(m *Manager) { m.locks = locks }
}

type providerEvent struct {
	seq uint64
	id  *identity.Identity
	err error
}

// Manager owns the current session of one browser session.
//
// Every state change carries a sequence number taken when the provider
// notified the change. An operation result reuses the number of the
// notification that announced it. A change older than the last applied one
// is dropped, so the state always follows the provider's order even when the
// document fetches that follow complete out of order.
type Manager struct {
	provider       identity.Provider
	users          db.UserRepository
	navigator      Navigator
	now            func() time.Time
	logger         *zap.Logger
	provisionHook  ProvisionHook
	dashboardPath  string
	landingPath    string
	collection     string
	concealUnknown bool
	locks          *keyedMutex

	seq uint64

	startOnce   sync.Once
	closeOnce   sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}

	queueMu sync.Mutex
	queue   []providerEvent
	// notified maps a uid, or "" for no session, to the sequence number of
	// the latest provider notification reporting it.
	notified map[string]uint64
	wake     chan struct{}

	mu          sync.Mutex
	snapshot    Snapshot
	lastApplied uint64
	closed      bool
	watchers    map[int]chan Snapshot
	nextWatcher int
}

// NewManager creates a Manager in the INITIALIZING state. Call Start to
// subscribe to the provider.
func NewManager(provider identity.Provider, users db.UserRepository, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:      provider,
		users:         users,
		now:           time.Now,
		logger:        zap.NewNop(),
		dashboardPath: DefaultDashboardPath,
		landingPath:   DefaultLandingPath,
		collection:    db.DefaultUsersCollection,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		wake:          make(chan struct{}, 1),
		notified:      make(map[string]uint64),
		snapshot:      Snapshot{Loading: true, State: StateInitializing},
		watchers:      make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locks == nil {
		m.locks = newKeyedMutex()
	}
	return m
}

// Start subscribes to the provider's session stream. Only the first call has
// an effect.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			close(m.done)
			return
		}
		go m.run()
		unsubscribe := m.provider.ObserveSession(m.enqueue)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			unsubscribe()
			return
		}
		m.unsubscribe = unsubscribe
		m.mu.Unlock()
	})
}

// Close unsubscribes from the provider, stops event handling and closes all
// watch channels. No state changes are applied afterwards.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		unsubscribe := m.unsubscribe
		for id, ch := range m.watchers {
			close(ch)
			delete(m.watchers, id)
		}
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		m.cancel()
		m.startOnce.Do(func() { close(m.done) })
		<-m.done
	})
}

// Current returns the current session value.
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.clone()
}

// Watch returns a channel that receives the current value immediately and
// then each change. Slow readers only see the latest value. The channel is
// closed by cancel or Close.
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	defer m.mu.Unlock()

	ch <- m.snapshot.clone()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(c)
		}
	}
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	if err := m.checkOpen(OpSignIn); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, invalidArgument(OpSignIn, "Email and password are required")
	}

	since := m.lastSeq()
	id, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, wrapError(OpSignIn, err)
	}
	seq := m.resultSeq(since, id.ID)

	user, err := m.loadOrProvision(ctx, id)
	if err != nil {
		return nil, wrapError(OpSignIn, err)
	}
	m.apply(seq, user)
	m.redirect(ctx, m.dashboardPath)
	return user.Clone(), nil
}

// SignUp creates an account and its user document. Role and plan always
// take their defaults.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	if err := m.checkOpen(OpSignUp); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)
	if email == "" || password == "" || displayName == "" {
		return nil, invalidArgument(OpSignUp, "Email, password and display name are required")
	}

	since := m.lastSeq()
	id, err := m.provider.CreateAccountWithPassword(ctx, email, password)
	if err != nil {
		return nil, wrapError(OpSignUp, err)
	}
	seq := m.resultSeq(since, id.ID)

	if err := m.provider.UpdateIdentityProfile(ctx, id, identity.IdentityProfile{DisplayName: displayName}); err != nil {
		return nil, wrapError(OpSignUp, err)
	}
	id.DisplayName = displayName

	user, err := m.provisionWithName(ctx, id, displayName)
	if err != nil {
		return nil, wrapError(OpSignUp, err)
	}
	m.apply(seq, user)
	m.redirect(ctx, m.dashboardPath)
	return user.Clone(), nil
}

// SignInWithGoogle completes a Google OAuth grant. The user document is
// created only when absent, existing documents are never overwritten.
func (m *Manager) SignInWithGoogle(ctx context.Context, grant identity.OAuthGrant) (*models.User, error) {
	if err := m.checkOpen(OpGoogleSignIn); err != nil {
		return nil, err
	}
	since := m.lastSeq()
	id, err := m.provider.SignInWithOAuth(ctx, identity.ProviderGoogle, grant)
	if err != nil {
		return nil, wrapError(OpGoogleSignIn, err)
	}
	seq := m.resultSeq(since, id.ID)

	user, err := m.loadOrProvision(ctx, id)
	if err != nil {
		return nil, wrapError(OpGoogleSignIn, err)
	}
	m.apply(seq, user)
	m.redirect(ctx, m.dashboardPath)
	return user.Clone(), nil
}

// SignOut ends the provider session. On failure the local state is kept.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.checkOpen(OpSignOut); err != nil {
		return err
	}
	since := m.lastSeq()
	if err := m.provider.SignOut(ctx); err != nil {
		return wrapError(OpSignOut, err)
	}
	m.apply(m.resultSeq(since, ""), nil)
	m.redirect(ctx, m.landingPath)
	return nil
}

// ResetPassword asks the provider to send a password reset email.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := m.checkOpen(OpResetPassword); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return invalidArgument(OpResetPassword, "Email is required")
	}
	err := m.provider.SendPasswordReset(ctx, email)
	if err != nil && m.concealUnknown && identity.CodeOf(err) == identity.CodeUserNotFound {
		m.logger.Info("Password reset requested for unknown email")
		return nil
	}
	return wrapError(OpResetPassword, err)
}

// UpdateUserProfile merges update into the user document. It is a silent
// no-op without an authenticated user. The cached user changes only after
// the store acknowledged the write.
func (m *Manager) UpdateUserProfile(ctx context.Context, update models.ProfileUpdate) error {
	if err := m.checkOpen(OpUpdateProfile); err != nil {
		return err
	}
	m.mu.Lock()
	current := m.snapshot.User.Clone()
	authenticated := m.snapshot.State == StateAuthenticated
	m.mu.Unlock()
	if !authenticated || current == nil {
		return nil
	}
	if update.IsEmpty() {
		return invalidArgument(OpUpdateProfile, "No profile fields to update")
	}

	if err := m.users.Merge(ctx, current.UID, update); err != nil {
		return wrapError(OpUpdateProfile, &StoreError{Op: "update", Collection: m.collection, ID: current.UID, Err: err})
	}
	seq := m.nextSeq()

	updated, err := m.users.GetByID(ctx, current.UID)
	if err != nil {
		m.logger.Warn("Failed to re-read user after profile update", zap.String("uid", current.UID), zap.Error(err))
		updated = current
		if update.DisplayName != nil {
			name := *update.DisplayName
			updated.DisplayName = &name
		}
		if update.PhotoURL != nil {
			photo := *update.PhotoURL
			updated.PhotoURL = &photo
		}
		updated.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot.User == nil || m.snapshot.User.UID != current.UID {
		return nil
	}
	m.applyLocked(seq, updated)
	return nil
}

func (m *Manager) checkOpen(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &AuthError{Kind: KindUnknown, Op: op, Err: ErrClosed}
	}
	return nil
}

func (m *Manager) nextSeq() uint64 {
	return atomic.AddUint64(&m.seq, 1)
}

func (m *Manager) lastSeq() uint64 {
	return atomic.LoadUint64(&m.seq)
}

// resultSeq returns the sequence number for an operation that ended with uid
// signed in ("" for signed out). Providers announce the change through the
// session callback before returning, so the number of that notification is
// reused. Without a notification since the operation started, a fresh number
// is taken.
func (m *Manager) resultSeq(since uint64, uid string) uint64 {
	m.queueMu.Lock()
	seq, ok := m.notified[uid]
	m.queueMu.Unlock()
	if ok && seq > since {
		return seq
	}
	return m.nextSeq()
}

// enqueue is the provider callback. It never blocks.
func (m *Manager) enqueue(id *identity.Identity, err error) {
	var uid string
	if id != nil {
		uid = id.ID
	}
	m.queueMu.Lock()
	ev := providerEvent{seq: m.nextSeq(), id: id, err: err}
	m.notified[uid] = ev.seq
	m.queue = append(m.queue, ev)
	m.queueMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		for {
			m.queueMu.Lock()
			if len(m.queue) == 0 {
				m.queueMu.Unlock()
				break
			}
			ev := m.queue[0]
			m.queue = m.queue[1:]
			m.queueMu.Unlock()

			if m.ctx.Err() != nil {
				return
			}
			m.handleEvent(ev)
		}
	}
}

// handleEvent applies a passive provider notification. Any failure ends in
// UNAUTHENTICATED so the session never stays in INITIALIZING.
func (m *Manager) handleEvent(ev providerEvent) {
	if ev.err != nil {
		m.logger.Warn("Identity provider reported a session error", zap.Error(ev.err))
		m.apply(ev.seq, nil)
		return
	}
	if ev.id == nil {
		m.apply(ev.seq, nil)
		return
	}

	user, err := m.loadOrProvision(m.ctx, ev.id)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Error("Failed to load user for restored session",
			zap.String("uid", ev.id.ID), zap.Error(wrapError(OpRestoreSession, err)))
		m.apply(ev.seq, nil)
		return
	}
	m.apply(ev.seq, user)
}

// loadOrProvision returns the user document of id, creating it with defaults
// when it does not exist yet.
func (m *Manager) loadOrProvision(ctx context.Context, id *identity.Identity) (*models.User, error) {
	unlock := m.locks.Lock(id.ID)
	defer unlock()

	user, err := m.users.GetByID(ctx, id.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, &StoreError{Op: "get", Collection: m.collection, ID: id.ID, Err: err}
	}
	return m.createLocked(ctx, id, models.StringPtr(id.DisplayName))
}

// provisionWithName creates the document of a freshly signed-up identity. A
// document created meanwhile by the restore path only gets the display name.
func (m *Manager) provisionWithName(ctx context.Context, id *identity.Identity, displayName string) (*models.User, error) {
	unlock := m.locks.Lock(id.ID)
	defer unlock()

	existing, err := m.users.GetByID(ctx, id.ID)
	switch {
	case err == nil:
		if err := m.users.Merge(ctx, id.ID, models.ProfileUpdate{DisplayName: &displayName}); err != nil {
			return nil, &StoreError{Op: "update", Collection: m.collection, ID: id.ID, Err: err}
		}
		if stored, err := m.users.GetByID(ctx, id.ID); err == nil {
			return stored, nil
		}
		existing.DisplayName = &displayName
		existing.UpdatedAt = m.now()
		return existing, nil
	case errors.Is(err, db.ErrNotFound):
		return m.createLocked(ctx, id, &displayName)
	default:
		return nil, &StoreError{Op: "get", Collection: m.collection, ID: id.ID, Err: err}
	}
}

// createLocked writes a default document and returns it as stored, so the
// timestamps are the store's. The local copy is used when the read fails.
func (m *Manager) createLocked(ctx context.Context, id *identity.Identity, displayName *string) (*models.User, error) {
	user := models.NewDefaultUser(id.ID, id.Email, displayName, models.StringPtr(id.PhotoURL), m.now())
	if err := m.users.Create(ctx, user); err != nil {
		return nil, &StoreError{Op: "create", Collection: m.collection, ID: id.ID, Err: err}
	}
	m.logger.Info("Provisioned user document", zap.String("uid", user.UID))
	if stored, err := m.users.GetByID(ctx, id.ID); err == nil {
		user = stored
	} else {
		m.logger.Warn("Failed to re-read provisioned user", zap.String("uid", id.ID), zap.Error(err))
	}
	if m.provisionHook != nil {
		m.provisionHook(ctx, *user.Clone())
	}
	return user, nil
}

func (m *Manager) apply(seq uint64, user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(seq, user)
}

func (m *Manager) applyLocked(seq uint64, user *models.User) {
	if m.closed || seq < m.lastApplied {
		return
	}
	m.lastApplied = seq
	next := Snapshot{State: StateUnauthenticated}
	if user != nil {
		next = Snapshot{User: user.Clone(), State: StateAuthenticated}
	}
	m.snapshot = next

	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next.clone():
		default:
		}
	}
}

func (m *Manager) redirect(ctx context.Context, path string) {
	if m.navigator != nil {
		m.navigator.Redirect(ctx, path)
	}
}

// keyedMutex serializes work per key, here the uid being provisioned.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

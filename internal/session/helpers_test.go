package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/identity/identitytest"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyStore wraps the memory store with write counters, error injection and
// per-document read gates.
type spyStore struct {
	*db.MemoryDocumentStore

	mu      sync.Mutex
	creates int
	merges  int
	getErr  error
	setErr  error
	gates   map[string]chan struct{}
}

func newSpyStore(clock *testClock) *spyStore {
	return &spyStore{
		MemoryDocumentStore: db.NewMemoryDocumentStore(clock.Now),
		gates:               make(map[string]chan struct{}),
	}
}

func (s *spyStore) GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	s.mu.Lock()
	gate := s.gates[id]
	err := s.getErr
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.MemoryDocumentStore.GetDocument(ctx, collection, id)
}

func (s *spyStore) SetDocument(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	s.mu.Lock()
	if merge {
		s.merges++
	} else {
		s.creates++
	}
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryDocumentStore.SetDocument(ctx, collection, id, data, merge)
}

func (s *spyStore) block(id string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[id] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *spyStore) writes() (creates, merges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.merges
}

func (s *spyStore) setErrors(getErr, setErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = getErr
	s.setErr = setErr
}

func (s *spyStore) doc(t *testing.T, uid string) map[string]interface{} {
	t.Helper()
	doc, err := s.MemoryDocumentStore.GetDocument(context.Background(), db.DefaultUsersCollection, uid)
	require.NoError(t, err)
	return doc
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Redirect(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type fixture struct {
	provider  *identitytest.Provider
	store     *spyStore
	clock     *testClock
	navigator *recordingNavigator
	manager   *Manager
}

func newFixture(t *testing.T, provider *identitytest.Provider, opts ...Option) *fixture {
	t.Helper()
	clock := newTestClock()
	store := newSpyStore(clock)
	nav := &recordingNavigator{}
	opts = append([]Option{WithClock(clock.Now), WithNavigator(nav)}, opts...)
	m := NewManager(provider, db.NewUserRepository(store, ""), opts...)
	t.Cleanup(m.Close)
	return &fixture{provider: provider, store: store, clock: clock, navigator: nav, manager: m}
}

// started starts the manager and waits until the restored session is applied.
func (f *fixture) started(t *testing.T) *fixture {
	t.Helper()
	f.manager.Start()
	waitForState(t, f.manager, func(s Snapshot) bool { return !s.Loading })
	return f
}

func waitForState(t *testing.T, m *Manager, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(m.Current()) }, 2*time.Second, 5*time.Millisecond)
	return m.Current()
}

package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/identity"
	"pagebuilder-backend-go/internal/models"
)

var (
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("session registry is closed")
	// ErrUnknownSession is returned by Rotate for an id that is not live.
	ErrUnknownSession = errors.New("unknown session")
)

// ProviderFactory returns the identity provider bound to one browser session.
type ProviderFactory func(sessionID string) identity.Provider

// StoredSessions reports whether credentials were persisted for a session id.
// identity.TokenStore satisfies it.
type StoredSessions interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// Info describes one live session for administration.
type Info struct {
	ID       string      `json:"id"`
	State    State       `json:"state"`
	UID      string      `json:"uid,omitempty"`
	Email    string      `json:"email,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	LastSeen time.Time   `json:"lastSeen"`
}

type registryEntry struct {
	manager  *Manager
	lastSeen time.Time
}

// Registry owns one Manager per browser session and closes idle ones.
type Registry struct {
	factory     ProviderFactory
	users       db.UserRepository
	stored      StoredSessions
	idleTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
	opts        []Option
	locks       *keyedMutex

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

// NewRegistry creates a registry. opts are applied to every Manager it creates.
// A nil stored only resumes sessions that are live in this process.
func NewRegistry(factory ProviderFactory, users db.UserRepository, stored StoredSessions, idleTimeout time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factory:     factory,
		users:       users,
		stored:      stored,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger,
		locks:       newKeyedMutex(),
		entries:     make(map[string]*registryEntry),
	}
	// Managers of the same user share provisioning locks across sessions.
	r.opts = append([]Option{WithLogger(logger), withUIDLocks(r.locks)}, opts...)
	return r
}

// Get returns the started Manager of sessionID, creating it on first use.
func (r *Registry) Get(sessionID string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if entry, ok := r.entries[sessionID]; ok {
		entry.lastSeen = r.now()
		return entry.manager, nil
	}

	opts := append(append([]Option(nil), r.opts...), WithLogger(r.logger.With(zap.String("session_id", sessionID))))
	manager := NewManager(r.factory(sessionID), r.users, opts...)
	manager.Start()
	r.entries[sessionID] = &registryEntry{manager: manager, lastSeen: r.now()}
	r.logger.Debug("Session created", zap.String("session_id", sessionID))
	return manager, nil
}

// Resume returns the Manager of a session id this service issued: one that is
// live, or one whose credentials were persisted. It returns nil for any other
// id, so a client cannot choose its own session id.
func (r *Registry) Resume(ctx context.Context, sessionID string) (*Manager, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if entry, ok := r.entries[sessionID]; ok {
		entry.lastSeen = r.now()
		r.mu.Unlock()
		return entry.manager, nil
	}
	r.mu.Unlock()

	if r.stored == nil {
		return nil, nil
	}
	exists, err := r.stored.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return r.Get(sessionID)
}

// Create starts a session under a new random id.
func (r *Registry) Create() (string, *Manager, error) {
	sessionID := uuid.NewString()
	manager, err := r.Get(sessionID)
	if err != nil {
		return "", nil, err
	}
	return sessionID, manager, nil
}

// Rotate moves a live session to a new random id and returns it. The
// provider state is re-keyed first; on failure the session keeps its old id.
func (r *Registry) Rotate(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	entry, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return "", ErrUnknownSession
	}

	newID := uuid.NewString()
	if rebinder, ok := entry.manager.provider.(identity.Rebinder); ok {
		if err := rebinder.Rebind(ctx, newID); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRegistryClosed
	}
	if current, ok := r.entries[sessionID]; !ok || current != entry {
		return "", ErrUnknownSession
	}
	delete(r.entries, sessionID)
	entry.lastSeen = r.now()
	r.entries[newID] = entry
	r.logger.Debug("Session rotated", zap.String("session_id", sessionID), zap.String("new_session_id", newID))
	return newID, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sessions lists live sessions, most recently used first.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	list := make([]Info, 0, len(r.entries))
	managers := make([]*Manager, 0, len(r.entries))
	for id, entry := range r.entries {
		list = append(list, Info{ID: id, LastSeen: entry.lastSeen})
		managers = append(managers, entry.manager)
	}
	r.mu.Unlock()

	for i, manager := range managers {
		snap := manager.Current()
		list[i].State = snap.State
		if snap.User != nil {
			list[i].UID = snap.User.UID
			list[i].Email = snap.User.Email
			list[i].Role = snap.User.Role
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastSeen.After(list[j].LastSeen) })
	return list
}

// EvictIdle closes sessions unused for longer than the idle timeout and
// returns how many were closed.
func (r *Registry) EvictIdle() int {
	cutoff := r.now().Add(-r.idleTimeout)
	var idle []*Manager
	r.mu.Lock()
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			idle = append(idle, entry.manager)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, manager := range idle {
		manager.Close()
	}
	if len(idle) > 0 {
		r.logger.Info("Evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run evicts idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}

// Close closes every Manager. Later Get calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.manager.Close()
	}
}

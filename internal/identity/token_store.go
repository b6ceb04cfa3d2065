package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pagebuilder-backend-go/internal/crypto"
)

// TokenSet is the credential material of one authenticated browser session.
type TokenSet struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Identity returns the identity the tokens were issued for.
func (t *TokenSet) Identity() *Identity {
	return &Identity{ID: t.UID, Email: t.Email, DisplayName: t.DisplayName, PhotoURL: t.PhotoURL}
}

// TokenStore persists token sets between process restarts.
type TokenStore interface {
	// Load returns nil, nil when nothing is stored for the session.
	Load(ctx context.Context, sessionID string) (*TokenSet, error)
	Save(ctx context.Context, sessionID string, tokens *TokenSet) error
	Delete(ctx context.Context, sessionID string) error
	// Exists reports whether tokens are stored for the session.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

const tokenKeyPrefix = "session:tokens:"

// RedisTokenStore keeps token sets in Redis, sealed with AES-256-GCM.
// The session ID is bound as additional data so a value cannot be replayed
// under another key.
type RedisTokenStore struct {
	client redisCmdable
	key    []byte
	ttl    time.Duration
}

// NewRedisTokenStore creates a token store. ttl bounds how long an unused
// session survives in Redis.
func NewRedisTokenStore(client redisCmdable, encryptionKey []byte, ttl time.Duration) (*RedisTokenStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if len(encryptionKey) != crypto.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", crypto.KeySize)
	}
	return &RedisTokenStore{client: client, key: encryptionKey, ttl: ttl}, nil
}

func tokenKey(sessionID string) string { return tokenKeyPrefix + sessionID }

func (s *RedisTokenStore) Load(ctx context.Context, sessionID string) (*TokenSet, error) {
	sealed, err := s.client.Get(ctx, tokenKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session tokens: %w", err)
	}
	plain, err := crypto.Decrypt(sealed, []byte(sessionID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to open session tokens: %w", err)
	}
	var tokens TokenSet
	if err := json.Unmarshal(plain, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode session tokens: %w", err)
	}
	return &tokens, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, sessionID string, tokens *TokenSet) error {
	plain, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode session tokens: %w", err)
	}
	sealed, err := crypto.Encrypt(plain, []byte(sessionID), s.key)
	if err != nil {
		return fmt.Errorf("failed to seal session tokens: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(sessionID), sealed, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, tokenKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session tokens: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, tokenKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up session tokens: %w", err)
	}
	return n > 0, nil
}

// MemoryTokenStore is a process-local TokenStore for development and tests.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]TokenSet
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]TokenSet)}
}

func (s *MemoryTokenStore) Load(ctx context.Context, sessionID string) (*TokenSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[sessionID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, sessionID string, tokens *TokenSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sessionID] = *tokens
	return nil
}

func (s *MemoryTokenStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

func (s *MemoryTokenStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[sessionID]
	return ok, nil
}

package db

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryServerTimestamp struct{}

// MemoryDocumentStore is an in-process DocumentStore used for local development
// (DOCUMENT_STORE=memory) and tests. Server timestamps resolve to the store clock.
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
	now         func() time.Time
}

// NewMemoryDocumentStore creates an empty store. A nil clock defaults to time.Now in UTC.
func NewMemoryDocumentStore(now func() time.Time) *MemoryDocumentStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryDocumentStore{
		collections: make(map[string]map[string]map[string]interface{}),
		now:         now,
	}
}

// GetDocument returns a copy of the stored document.
func (s *MemoryDocumentStore) GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return copyDocument(doc), nil
}

// SetDocument stores data, resolving server timestamp markers.
func (s *MemoryDocumentStore) SetDocument(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		s.collections[collection] = coll
	}

	now := s.now()
	resolved := make(map[string]interface{}, len(data))
	for k, v := range data {
		if _, isMarker := v.(memoryServerTimestamp); isMarker {
			v = now
		}
		resolved[k] = v
	}

	existing, exists := coll[id]
	if !merge || !exists {
		coll[id] = resolved
		return nil
	}
	for k, v := range resolved {
		existing[k] = v
	}
	return nil
}

// ServerTimestamp returns the marker resolved on write.
func (s *MemoryDocumentStore) ServerTimestamp() interface{} {
	return memoryServerTimestamp{}
}

// Len returns the number of documents in a collection.
func (s *MemoryDocumentStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func copyDocument(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

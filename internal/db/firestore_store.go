package db

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDocumentStore implements DocumentStore on Cloud Firestore.
type FirestoreDocumentStore struct {
	client *firestore.Client
}

// NewFirestoreDocumentStore creates a DocumentStore backed by the given client.
func NewFirestoreDocumentStore(client *firestore.Client) (*FirestoreDocumentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	return &FirestoreDocumentStore{client: client}, nil
}

// GetDocument retrieves a document by collection and ID.
func (s *FirestoreDocumentStore) GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return snap.Data(), nil
}

// SetDocument writes a document, merging fields when merge is true.
func (s *FirestoreDocumentStore) SetDocument(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	ref := s.client.Collection(collection).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

// ServerTimestamp returns Firestore's server timestamp sentinel.
func (s *FirestoreDocumentStore) ServerTimestamp() interface{} {
	return firestore.ServerTimestamp
}

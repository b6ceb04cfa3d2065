package db

import (
	"context"
	"errors"

	"pagebuilder-backend-go/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the keyed document database holding user profiles.
// Documents are plain maps so provider snapshot types never leave this package.
type DocumentStore interface {
	// GetDocument returns the document data or an error wrapping ErrNotFound.
	GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error)
	// SetDocument writes data. With merge=true only the given fields are written
	// and all others are left untouched; otherwise the document is replaced.
	SetDocument(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error
	// ServerTimestamp returns an opaque marker resolved to the write time by the store.
	ServerTimestamp() interface{}
}

// UserRepository defines the user profile storage operations.
type UserRepository interface {
	GetByID(ctx context.Context, uid string) (*models.User, error)
	// Create writes a complete profile, replacing any existing document.
	Create(ctx context.Context, user *models.User) error
	// Merge writes only the fields set in update, plus updatedAt.
	Merge(ctx context.Context, uid string, update models.ProfileUpdate) error
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pagebuilder-backend-go/internal/models"
)

// DefaultUsersCollection is the collection holding user profiles.
const DefaultUsersCollection = "users"

// Document field names of a user profile.
const (
	fieldUID         = "uid"
	fieldEmail       = "email"
	fieldDisplayName = "displayName"
	fieldPhotoURL    = "photoURL"
	fieldRole        = "role"
	fieldPlan        = "plan"
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"
)

// documentUserRepository implements UserRepository over any DocumentStore.
type documentUserRepository struct {
	store      DocumentStore
	collection string
}

// NewUserRepository creates a UserRepository. An empty collection defaults to "users".
func NewUserRepository(store DocumentStore, collection string) UserRepository {
	if collection == "" {
		collection = DefaultUsersCollection
	}
	return &documentUserRepository{store: store, collection: collection}
}

// GetByID retrieves a user profile by UID.
func (r *documentUserRepository) GetByID(ctx context.Context, uid string) (*models.User, error) {
	if uid == "" {
		return nil, errors.New("uid cannot be empty for GetByID operation")
	}
	doc, err := r.store.GetDocument(ctx, r.collection, uid)
	if err != nil {
		return nil, err
	}
	user := userFromDocument(doc)
	user.UID = uid
	return user, nil
}

// Create writes a full profile. Timestamps are set by the store.
func (r *documentUserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil || user.UID == "" {
		return errors.New("user ID cannot be empty for Create operation")
	}
	ts := r.store.ServerTimestamp()
	doc := map[string]interface{}{
		fieldUID:         user.UID,
		fieldEmail:       user.Email,
		fieldDisplayName: nullableString(user.DisplayName),
		fieldPhotoURL:    nullableString(user.PhotoURL),
		fieldRole:        string(user.Role),
		fieldPlan:        string(user.Plan),
		fieldCreatedAt:   ts,
		fieldUpdatedAt:   ts,
	}
	if err := r.store.SetDocument(ctx, r.collection, user.UID, doc, false); err != nil {
		return fmt.Errorf("failed to create user with ID '%s': %w", user.UID, err)
	}
	return nil
}

// Merge writes the provided profile fields and updatedAt, leaving everything else untouched.
func (r *documentUserRepository) Merge(ctx context.Context, uid string, update models.ProfileUpdate) error {
	if uid == "" {
		return errors.New("uid cannot be empty for Merge operation")
	}
	doc := map[string]interface{}{
		fieldUpdatedAt: r.store.ServerTimestamp(),
	}
	if update.DisplayName != nil {
		doc[fieldDisplayName] = *update.DisplayName
	}
	if update.PhotoURL != nil {
		doc[fieldPhotoURL] = *update.PhotoURL
	}
	if err := r.store.SetDocument(ctx, r.collection, uid, doc, true); err != nil {
		return fmt.Errorf("failed to update user with ID '%s': %w", uid, err)
	}
	return nil
}

func userFromDocument(doc map[string]interface{}) *models.User {
	user := &models.User{}
	user.UID, _ = doc[fieldUID].(string)
	user.Email, _ = doc[fieldEmail].(string)
	if name, ok := doc[fieldDisplayName].(string); ok {
		user.DisplayName = &name
	}
	if photo, ok := doc[fieldPhotoURL].(string); ok {
		user.PhotoURL = &photo
	}

	// Unknown roles degrade to guest so a corrupted document never grants access.
	rawRole, _ := doc[fieldRole].(string)
	role, err := models.ParseRole(rawRole)
	if err != nil {
		role = models.RoleGuest
	}
	user.Role = role

	rawPlan, _ := doc[fieldPlan].(string)
	plan, err := models.ParsePlan(rawPlan)
	if err != nil {
		plan = models.PlanFree
	}
	user.Plan = plan

	user.CreatedAt, _ = doc[fieldCreatedAt].(time.Time)
	user.UpdatedAt, _ = doc[fieldUpdatedAt].(time.Time)
	return user
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

package db

import (
	"context"
	"errors"
	"fmt"

	"pagebuilder-backend-go/internal/models"
)

// DefaultAuditCollection is the collection holding audit entries.
const DefaultAuditCollection = "auditLogs"

// AuditRepository stores audit entries.
type AuditRepository interface {
	Create(ctx context.Context, logEntry models.AuditLog) error
}

type documentAuditRepository struct {
	store      DocumentStore
	collection string
}

// NewAuditRepository creates an AuditRepository. An empty collection defaults to "auditLogs".
func NewAuditRepository(store DocumentStore, collection string) AuditRepository {
	if collection == "" {
		collection = DefaultAuditCollection
	}
	return &documentAuditRepository{store: store, collection: collection}
}

// Create writes the entry under its ID. The timestamp is set by the store.
func (r *documentAuditRepository) Create(ctx context.Context, logEntry models.AuditLog) error {
	if logEntry.ID == "" {
		return errors.New("audit log ID cannot be empty")
	}
	doc := map[string]interface{}{
		"timestamp": r.store.ServerTimestamp(),
		"userId":    logEntry.UserID,
		"action":    logEntry.Action,
	}
	if logEntry.TargetType != "" {
		doc["targetType"] = logEntry.TargetType
	}
	if logEntry.TargetID != "" {
		doc["targetId"] = logEntry.TargetID
	}
	if logEntry.IPAddress != "" {
		doc["ipAddress"] = logEntry.IPAddress
	}
	if logEntry.UserAgent != "" {
		doc["userAgent"] = logEntry.UserAgent
	}
	if len(logEntry.Details) > 0 {
		doc["details"] = logEntry.Details
	}
	if err := r.store.SetDocument(ctx, r.collection, logEntry.ID, doc, false); err != nil {
		return fmt.Errorf("failed to create audit log '%s': %w", logEntry.ID, err)
	}
	return nil
}

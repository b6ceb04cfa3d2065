package core

import (
	"context"

	"pagebuilder-backend-go/internal/models"
)

// AuditService records security relevant user actions.
type AuditService interface {
	// Record stores the entry. Failures are logged and never returned, so
	// auditing cannot fail the action being audited.
	Record(ctx context.Context, logEntry models.AuditLog)
}

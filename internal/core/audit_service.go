package core

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagebuilder-backend-go/internal/db"
	"pagebuilder-backend-go/internal/models"
)

type auditService struct {
	auditRepo db.AuditRepository
	logger    *zap.Logger
}

// NewAuditService creates a new AuditService backed by auditRepo.
func NewAuditService(auditRepo db.AuditRepository, logger *zap.Logger) AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &auditService{auditRepo: auditRepo, logger: logger}
}

// Record assigns an ID when missing and stores the entry.
func (s *auditService) Record(ctx context.Context, logEntry models.AuditLog) {
	if logEntry.ID == "" {
		logEntry.ID = uuid.NewString()
	}
	if err := s.auditRepo.Create(ctx, logEntry); err != nil {
		s.logger.Error("Failed to write audit log",
			zap.String("action", logEntry.Action),
			zap.String("user_id", logEntry.UserID),
			zap.Error(err),
		)
	}
}

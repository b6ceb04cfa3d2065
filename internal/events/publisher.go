// Package events publishes domain events for downstream consumers.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pagebuilder-backend-go/internal/models"
)

// TypeUserProvisioned is published after a user document was created.
const TypeUserProvisioned = "user.provisioned"

// Event is the JSON envelope written to the queue.
type Event struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurredAt"`
	Data       map[string]interface{} `json:"data"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards events. Used when RABBITMQ_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// UserProvisionedHook returns a callback publishing user.provisioned for a
// newly created user. Publish failures are logged only.
func UserProvisionedHook(pub Publisher, logger *zap.Logger) func(ctx context.Context, user models.User) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, user models.User) {
		event := Event{
			Type:       TypeUserProvisioned,
			OccurredAt: time.Now().UTC(),
			Data: map[string]interface{}{
				"uid":         user.UID,
				"email":       user.Email,
				"displayName": user.DisplayName,
				"role":        user.Role,
				"plan":        user.Plan,
			},
		}
		if err := pub.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish event",
				zap.String("type", event.Type),
				zap.String("uid", user.UID),
				zap.Error(err),
			)
		}
	}
}

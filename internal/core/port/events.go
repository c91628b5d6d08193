package port

import (
	"context"

	"github.com/namecraft/auth-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishTokenReuseDetected(ctx context.Context, event domain.TokenReuseDetectedEvent) error
	PublishPlanChanged(ctx context.Context, event domain.PlanChangedEvent) error
}

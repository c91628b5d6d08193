package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishUserRegistered logs auth.user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	payload := map[string]any{
		"user_id":       event.UserID,
		"email":         event.Email,
		"plan":          event.Plan,
		"registered_at": event.RegisteredAt,
		"metadata":      event.Metadata,
	}
	p.logEvent("auth.user.registered", event.UserID, event.RegisteredAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id":     event.SessionID,
		"user_id":        event.UserID,
		"family_id":      event.FamilyID,
		"device_label":   event.DeviceLabel,
		"revoked_at":     event.RevokedAt,
		"revoked_by":     event.RevokedBy,
		"reason":         event.Reason,
		"tokens_revoked": event.TokensRevoked,
		"ip_address":     event.IPAddress,
		"metadata":       event.Metadata,
	}
	p.logEvent("auth.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishTokenReuseDetected logs auth.token.reuse_detected events.
func (p *StubPublisher) PublishTokenReuseDetected(_ context.Context, event domain.TokenReuseDetectedEvent) error {
	payload := map[string]any{
		"user_id":     event.UserID,
		"session_id":  event.SessionID,
		"family_id":   event.FamilyID,
		"token_id":    event.TokenID,
		"detected_at": event.DetectedAt,
		"ip_address":  event.IPAddress,
		"metadata":    event.Metadata,
	}
	p.logEvent("auth.token.reuse_detected", event.UserID, event.DetectedAt, payload)
	return nil
}

// PublishPlanChanged logs auth.user.plan_changed events.
func (p *StubPublisher) PublishPlanChanged(_ context.Context, event domain.PlanChangedEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"old_plan":         event.OldPlan,
		"new_plan":         event.NewPlan,
		"changed_at":       event.ChangedAt,
		"changed_by":       event.ChangedBy,
		"sessions_revoked": event.SessionsRevoked,
		"metadata":         event.Metadata,
	}
	p.logEvent("auth.user.plan_changed", event.UserID, event.ChangedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)

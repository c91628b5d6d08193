package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes auth.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string         `json:"user_id"`
		Email        string         `json:"email"`
		Plan         string         `json:"plan"`
		RegisteredAt time.Time      `json:"registered_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		UserID:       event.UserID,
		Email:        event.Email,
		Plan:         string(event.Plan),
		RegisteredAt: event.RegisteredAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.user.registered", event.UserID, event.RegisteredAt, payload)
}

// PublishSessionRevoked publishes auth.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID     string         `json:"session_id"`
		UserID        string         `json:"user_id"`
		FamilyID      string         `json:"family_id"`
		DeviceLabel   *string        `json:"device_label,omitempty"`
		RevokedAt     time.Time      `json:"revoked_at"`
		RevokedBy     string         `json:"revoked_by"`
		Reason        string         `json:"reason"`
		TokensRevoked int            `json:"tokens_revoked"`
		IPAddress     *string        `json:"ip_address,omitempty"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:     event.SessionID,
		UserID:        event.UserID,
		FamilyID:      event.FamilyID,
		DeviceLabel:   event.DeviceLabel,
		RevokedAt:     event.RevokedAt.UTC(),
		RevokedBy:     event.RevokedBy,
		Reason:        event.Reason,
		TokensRevoked: event.TokensRevoked,
		IPAddress:     event.IPAddress,
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.session.revoked", event.UserID, event.RevokedAt, payload)
}

// PublishTokenReuseDetected publishes auth.token.reuse_detected events.
func (p *EventPublisher) PublishTokenReuseDetected(ctx context.Context, event domain.TokenReuseDetectedEvent) error {
	payload := struct {
		UserID     string         `json:"user_id"`
		SessionID  string         `json:"session_id"`
		FamilyID   string         `json:"family_id"`
		TokenID    string         `json:"token_id"`
		DetectedAt time.Time      `json:"detected_at"`
		IPAddress  *string        `json:"ip_address,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		FamilyID:   event.FamilyID,
		TokenID:    event.TokenID,
		DetectedAt: event.DetectedAt.UTC(),
		IPAddress:  event.IPAddress,
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.token.reuse_detected", event.UserID, event.DetectedAt, payload)
}

// PublishPlanChanged publishes auth.user.plan_changed events.
func (p *EventPublisher) PublishPlanChanged(ctx context.Context, event domain.PlanChangedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		OldPlan         string         `json:"old_plan"`
		NewPlan         string         `json:"new_plan"`
		ChangedAt       time.Time      `json:"changed_at"`
		ChangedBy       string         `json:"changed_by"`
		SessionsRevoked int            `json:"sessions_revoked"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		OldPlan:         string(event.OldPlan),
		NewPlan:         string(event.NewPlan),
		ChangedAt:       event.ChangedAt.UTC(),
		ChangedBy:       event.ChangedBy,
		SessionsRevoked: event.SessionsRevoked,
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.user.plan_changed", event.UserID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

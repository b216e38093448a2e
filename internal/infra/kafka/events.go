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

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/config"
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
	TenantID  string           `json:"tenant_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID, tenantID string, ts time.Time, payload any) error {
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
		TenantID:  tenantID,
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

// PublishLoginSucceeded publishes auth.login.succeeded events.
func (p *EventPublisher) PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		TenantID  string         `json:"tenant_id"`
		Email     string         `json:"email"`
		LoginAt   time.Time      `json:"login_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		Email:     event.Email,
		LoginAt:   event.LoginAt.UTC(),
		IPAddress: event.IP,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.login.succeeded", event.UserID, event.TenantID, event.LoginAt, payload)
}

// PublishLoginFailed publishes auth.login.failed events. UserID is absent for
// attempts against unknown emails.
func (p *EventPublisher) PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error {
	payload := struct {
		UserID         *string        `json:"user_id,omitempty"`
		TenantID       *string        `json:"tenant_id,omitempty"`
		Email          string         `json:"email"`
		FailedAt       time.Time      `json:"failed_at"`
		FailedAttempts int            `json:"failed_attempts"`
		LockoutArmed   bool           `json:"lockout_armed"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		UserID:         event.UserID,
		TenantID:       event.TenantID,
		Email:          event.Email,
		FailedAt:       event.FailedAt.UTC(),
		FailedAttempts: event.FailedAttempts,
		LockoutArmed:   event.LockoutArmed,
		IPAddress:      event.IP,
		Metadata:       event.Metadata,
	}

	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	tenantID := ""
	if event.TenantID != nil {
		tenantID = *event.TenantID
	}

	return p.publish(ctx, event.EventID, "auth.login.failed", userID, tenantID, event.FailedAt, payload)
}

// PublishAccountLocked publishes auth.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		UserID       string         `json:"user_id"`
		TenantID     string         `json:"tenant_id"`
		LockedAt     time.Time      `json:"locked_at"`
		LockoutUntil time.Time      `json:"lockout_until"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		UserID:       event.UserID,
		TenantID:     event.TenantID,
		LockedAt:     event.LockedAt.UTC(),
		LockoutUntil: event.LockoutUntil.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.account.locked", event.UserID, event.TenantID, event.LockedAt, payload)
}

// PublishTokenRefreshed publishes auth.token.refreshed events.
func (p *EventPublisher) PublishTokenRefreshed(ctx context.Context, event domain.TokenRefreshedEvent) error {
	payload := struct {
		UserID      string         `json:"user_id"`
		TenantID    string         `json:"tenant_id"`
		RotatedFrom string         `json:"rotated_from,omitempty"`
		OldJTI      string         `json:"old_jti,omitempty"`
		NewJTI      string         `json:"new_jti"`
		RefreshedAt time.Time      `json:"refreshed_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		UserID:      event.UserID,
		TenantID:    event.TenantID,
		RotatedFrom: event.RotatedFrom,
		OldJTI:      event.OldJTI,
		NewJTI:      event.NewJTI,
		RefreshedAt: event.RefreshedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.token.refreshed", event.UserID, event.TenantID, event.RefreshedAt, payload)
}

// PublishSessionRevoked publishes auth.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		UserID        string         `json:"user_id"`
		TenantID      string         `json:"tenant_id"`
		Reason        string         `json:"reason"`
		TokensRevoked int            `json:"tokens_revoked"`
		RevokedAt     time.Time      `json:"revoked_at"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		UserID:        event.UserID,
		TenantID:      event.TenantID,
		Reason:        event.Reason,
		TokensRevoked: event.TokensRevoked,
		RevokedAt:     event.RevokedAt.UTC(),
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.session.revoked", event.UserID, event.TenantID, event.RevokedAt, payload)
}

// PublishPasswordChanged publishes auth.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		TenantID  string         `json:"tenant_id"`
		ChangedAt time.Time      `json:"changed_at"`
		ChangedBy string         `json:"changed_by"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		ChangedAt: event.ChangedAt.UTC(),
		ChangedBy: event.ChangedBy,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.password.changed", event.UserID, event.TenantID, event.ChangedAt, payload)
}

// PublishPasswordResetRequested publishes auth.password.reset_requested
// events. The email is masked; the raw reset token never enters the payload.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		UserID      string         `json:"user_id"`
		TenantID    string         `json:"tenant_id"`
		RequestedAt time.Time      `json:"requested_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		MaskedEmail string         `json:"masked_email"`
		IPAddress   *string        `json:"ip_address,omitempty"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		UserID:      event.UserID,
		TenantID:    event.TenantID,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		MaskedEmail: event.MaskedEmail,
		IPAddress:   event.IP,
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.password.reset_requested", event.UserID, event.TenantID, event.RequestedAt, payload)
}

// PublishPasswordResetCompleted publishes auth.password.reset_completed events.
func (p *EventPublisher) PublishPasswordResetCompleted(ctx context.Context, event domain.PasswordResetCompletedEvent) error {
	payload := struct {
		UserID      string         `json:"user_id"`
		TenantID    string         `json:"tenant_id"`
		CompletedAt time.Time      `json:"completed_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		UserID:      event.UserID,
		TenantID:    event.TenantID,
		CompletedAt: event.CompletedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.password.reset_completed", event.UserID, event.TenantID, event.CompletedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

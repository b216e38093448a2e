package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
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

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishLoginSucceeded logs auth.login.succeeded events.
func (p *StubPublisher) PublishLoginSucceeded(_ context.Context, event domain.LoginSucceededEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"tenant_id":  event.TenantID,
		"email":      event.Email,
		"login_at":   event.LoginAt,
		"ip_address": event.IP,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.login.succeeded", event.UserID, event.LoginAt, payload)
	return nil
}

// PublishLoginFailed logs auth.login.failed events.
func (p *StubPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	payload := map[string]any{
		"user_id":         event.UserID,
		"tenant_id":       event.TenantID,
		"email":           event.Email,
		"failed_at":       event.FailedAt,
		"failed_attempts": event.FailedAttempts,
		"lockout_armed":   event.LockoutArmed,
		"ip_address":      event.IP,
		"metadata":        event.Metadata,
	}

	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	p.logEvent("auth.login.failed", userID, event.FailedAt, payload)
	return nil
}

// PublishAccountLocked logs auth.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"user_id":       event.UserID,
		"tenant_id":     event.TenantID,
		"locked_at":     event.LockedAt,
		"lockout_until": event.LockoutUntil,
		"metadata":      event.Metadata,
	}
	p.logEvent("auth.account.locked", event.UserID, event.LockedAt, payload)
	return nil
}

// PublishTokenRefreshed logs auth.token.refreshed events.
func (p *StubPublisher) PublishTokenRefreshed(_ context.Context, event domain.TokenRefreshedEvent) error {
	payload := map[string]any{
		"user_id":      event.UserID,
		"tenant_id":    event.TenantID,
		"rotated_from": event.RotatedFrom,
		"old_jti":      event.OldJTI,
		"new_jti":      event.NewJTI,
		"refreshed_at": event.RefreshedAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("auth.token.refreshed", event.UserID, event.RefreshedAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"user_id":        event.UserID,
		"tenant_id":      event.TenantID,
		"reason":         event.Reason,
		"tokens_revoked": event.TokensRevoked,
		"revoked_at":     event.RevokedAt,
		"metadata":       event.Metadata,
	}
	p.logEvent("auth.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishPasswordChanged logs auth.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"tenant_id":  event.TenantID,
		"changed_at": event.ChangedAt,
		"changed_by": event.ChangedBy,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.password.changed", event.UserID, event.ChangedAt, payload)
	return nil
}

// PublishPasswordResetRequested logs auth.password.reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"user_id":      event.UserID,
		"tenant_id":    event.TenantID,
		"requested_at": event.RequestedAt,
		"expires_at":   event.ExpiresAt,
		"masked_email": event.MaskedEmail,
		"ip_address":   event.IP,
		"metadata":     event.Metadata,
	}
	p.logEvent("auth.password.reset_requested", event.UserID, event.RequestedAt, payload)
	return nil
}

// PublishPasswordResetCompleted logs auth.password.reset_completed events.
func (p *StubPublisher) PublishPasswordResetCompleted(_ context.Context, event domain.PasswordResetCompletedEvent) error {
	payload := map[string]any{
		"user_id":      event.UserID,
		"tenant_id":    event.TenantID,
		"completed_at": event.CompletedAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("auth.password.reset_completed", event.UserID, event.CompletedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)

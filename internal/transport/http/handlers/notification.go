package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	applogger "github.com/medisphere/pharmacy-platform-auth/internal/infra/logger"
)

// NotificationDispatcher delivers password reset credentials to the account
// owner. The platform's notification service implements this against its
// mail provider; the bundled implementations cover local development.
type NotificationDispatcher interface {
	SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error
}

// PasswordResetNotification carries the raw reset token to the delivery
// channel. The token appears nowhere else outside development mode.
type PasswordResetNotification struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

type noopDispatcher struct{}

func (noopDispatcher) SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error {
	return nil
}

// LoggingNotificationDispatcher records dispatch events for observability
// without delivering them. The token itself is never logged.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
}

// NewLoggingNotificationDispatcher constructs a notification dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(logger *zap.Logger) NotificationDispatcher {
	if logger == nil {
		return noopDispatcher{}
	}
	return &LoggingNotificationDispatcher{logger: logger}
}

func (d *LoggingNotificationDispatcher) SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error {
	if d == nil || d.logger == nil {
		return nil
	}

	d.logger.Info("dispatch password reset",
		zap.String("email", applogger.MaskEmail(payload.Email)),
		zap.Time("expires_at", payload.ExpiresAt),
	)
	return nil
}

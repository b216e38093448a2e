package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/config"
	appLogger "github.com/medisphere/pharmacy-platform-auth/internal/infra/logger"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

var (
	// ErrInvalidResetToken indicates the reset token is unknown, expired, or
	// already redeemed.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	// ErrSamePassword indicates the new password matches the current one.
	ErrSamePassword = errors.New("new password must differ from the current password")
)

const resetTokenByteLength = 32

// PasswordService handles self-service password changes and the email reset
// flow.
type PasswordService struct {
	cfg           *config.AppConfig
	users         port.UserRepository
	resetTokens   port.PasswordResetTokenRepository
	refreshTokens port.RefreshTokenRepository
	blacklist     *BlacklistService
	validator     port.PasswordPolicyValidator
	limiter       *RateLimiter
	events        port.EventPublisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewPasswordService constructs a PasswordService instance.
func NewPasswordService(
	cfg *config.AppConfig,
	users port.UserRepository,
	resetTokens port.PasswordResetTokenRepository,
	refreshTokens port.RefreshTokenRepository,
	blacklist *BlacklistService,
	validator port.PasswordPolicyValidator,
	limiter *RateLimiter,
	events port.EventPublisher,
	logger *zap.Logger,
) (*PasswordService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if resetTokens == nil {
		return nil, fmt.Errorf("password reset token repository is required")
	}
	if refreshTokens == nil {
		return nil, fmt.Errorf("refresh token repository is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("password validator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &PasswordService{
		cfg:           cfg,
		users:         users,
		resetTokens:   resetTokens,
		refreshTokens: refreshTokens,
		blacklist:     blacklist,
		validator:     validator,
		limiter:       limiter,
		events:        events,
		logger:        logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }

	return service, nil
}

// WithClock overrides the service clock for deterministic tests.
func (s *PasswordService) WithClock(clock func() time.Time) *PasswordService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// ChangePasswordInput carries an authenticated password change request.
type ChangePasswordInput struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
}

// ForgotPasswordInput carries a password reset request.
type ForgotPasswordInput struct {
	Email string
	IP    *string
}

// ForgotPasswordResult hands the raw reset token to the delivery pipeline.
// The token never appears in API responses.
type ForgotPasswordResult struct {
	Token     string
	ExpiresAt time.Time
}

// ResetPasswordInput carries a reset token redemption.
type ResetPasswordInput struct {
	Token       string
	NewPassword string
	IP          *string
}

// ChangePassword verifies the current password and stores a hash of the new
// one. Existing sessions stay valid; the caller proved possession of the
// current credential.
func (s *PasswordService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if input.CurrentPassword == "" {
		return fmt.Errorf("current password is required")
	}
	if input.NewPassword == "" {
		return fmt.Errorf("new password is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return ErrUserInactive
	}

	if !security.VerifyPassword(input.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if input.NewPassword == input.CurrentPassword {
		return ErrSamePassword
	}
	if err := s.validator.Validate(input.NewPassword); err != nil {
		return err
	}

	hash, err := security.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}

	s.publishPasswordChanged(ctx, user, now, "user")

	return nil
}

// ForgotPassword issues a reset token for the account behind the email. The
// outcome is indistinguishable for unknown and inactive accounts; callers
// always render the same generic acknowledgement.
func (s *PasswordService) ForgotPassword(ctx context.Context, input ForgotPasswordInput) (*ForgotPasswordResult, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	identifiers := []string{"password_reset:email:" + email}
	if input.IP != nil && *input.IP != "" {
		identifiers = append(identifiers, "password_reset:ip:"+*input.IP)
	}
	if err := throttle(ctx, s.limiter, s.logger, s.cfg.RateLimit.PasswordResetMaxAttempts, identifiers...); err != nil {
		return nil, err
	}

	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email",
				zap.String("email", appLogger.MaskEmail(email)))
			return nil, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		s.logger.Info("password reset requested for inactive account",
			zap.String("user_id", user.ID))
		return nil, nil
	}

	raw, err := security.GenerateSecureToken(resetTokenByteLength)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}

	ttl := s.cfg.JWT.ResetTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	record := domain.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.resetTokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	s.publishPasswordResetRequested(ctx, user, email, now, record.ExpiresAt, input.IP)

	return &ForgotPasswordResult{Token: raw, ExpiresAt: record.ExpiresAt}, nil
}

// ResetPassword redeems a reset token, stores the new password hash, and
// revokes every session of the user. The token redeems at most once even
// under concurrent submissions.
func (s *PasswordService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	raw := strings.TrimSpace(input.Token)
	if raw == "" {
		return fmt.Errorf("reset token is required")
	}
	if input.NewPassword == "" {
		return fmt.Errorf("new password is required")
	}

	record, err := s.resetTokens.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now()
	if record.IsExpired(now) {
		return ErrInvalidResetToken
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return ErrUserInactive
	}

	if err := s.validator.Validate(input.NewPassword); err != nil {
		return err
	}

	hash, err := security.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.resetTokens.ConsumeAndSetPassword(ctx, record.ID, user.ID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race against a concurrent redemption.
			return ErrInvalidResetToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	// A reset means the previous credential may be compromised, so every
	// session goes.
	revoked, err := s.refreshTokens.RevokeAllForUser(ctx, user.ID, reasonPasswordReset)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	if s.blacklist != nil {
		if _, err := s.blacklist.BlacklistUser(ctx, user.ID, reasonPasswordReset); err != nil {
			return fmt.Errorf("blacklist user tokens: %w", err)
		}
	}

	s.publishPasswordResetCompleted(ctx, user, now, revoked)

	return nil
}

func (s *PasswordService) publishPasswordChanged(ctx context.Context, user *domain.User, at time.Time, changedBy string) {
	if s.events == nil {
		return
	}

	event := domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		ChangedAt: at,
		ChangedBy: changedBy,
	}
	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed event", zap.Error(err))
	}
}

func (s *PasswordService) publishPasswordResetRequested(ctx context.Context, user *domain.User, email string, at, expiresAt time.Time, ip *string) {
	if s.events == nil {
		return
	}

	event := domain.PasswordResetRequestedEvent{
		EventID:     uuid.NewString(),
		UserID:      user.ID,
		TenantID:    user.TenantID,
		RequestedAt: at,
		ExpiresAt:   expiresAt,
		MaskedEmail: appLogger.MaskEmail(email),
		IP:          ip,
	}
	if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
		s.logger.Warn("publish password reset requested event", zap.Error(err))
	}
}

func (s *PasswordService) publishPasswordResetCompleted(ctx context.Context, user *domain.User, at time.Time, tokensRevoked int) {
	if s.events == nil {
		return
	}

	event := domain.PasswordResetCompletedEvent{
		EventID:     uuid.NewString(),
		UserID:      user.ID,
		TenantID:    user.TenantID,
		CompletedAt: at,
		Metadata:    map[string]any{"tokens_revoked": tokensRevoked},
	}
	if err := s.events.PublishPasswordResetCompleted(ctx, event); err != nil {
		s.logger.Warn("publish password reset completed event", zap.Error(err))
	}
}

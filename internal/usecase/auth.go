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
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is inside its lockout window.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrUserNotFound indicates the referenced user no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive indicates the account has been deactivated.
	ErrUserInactive = errors.New("user account is inactive")
	// ErrInvalidRefreshToken indicates the refresh token is unknown, expired,
	// revoked, or already exchanged.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenBlacklisted indicates the access token was revoked before its expiry.
	ErrTokenBlacklisted = errors.New("token revoked")
	// ErrAuthUnavailable indicates revocation state could not be confirmed and
	// the degradation policy forbids continuing.
	ErrAuthUnavailable = errors.New("authentication temporarily unavailable")
	// ErrRateLimited is matched by RateLimitError via errors.Is.
	ErrRateLimited = errors.New("too many attempts")
)

// RateLimitError reports a throttled request together with the wait hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

// Is lets callers test with errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

const (
	reasonRotated       = "rotated"
	reasonLogout        = "logout"
	reasonTokenReuse    = "token_reuse"
	reasonPasswordReset = "password_reset"
)

// AuthService coordinates login, token rotation, and session revocation.
type AuthService struct {
	cfg           *config.AppConfig
	users         port.UserRepository
	roles         port.RoleRepository
	refreshTokens port.RefreshTokenRepository
	blacklist     *BlacklistService
	limiter       *RateLimiter
	tokens        *security.JWTManager
	events        port.EventPublisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	roles port.RoleRepository,
	refreshTokens port.RefreshTokenRepository,
	blacklist *BlacklistService,
	limiter *RateLimiter,
	tokens *security.JWTManager,
	events port.EventPublisher,
	logger *zap.Logger,
) (*AuthService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if refreshTokens == nil {
		return nil, fmt.Errorf("refresh token repository is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("jwt manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &AuthService{
		cfg:           cfg,
		users:         users,
		roles:         roles,
		refreshTokens: refreshTokens,
		blacklist:     blacklist,
		limiter:       limiter,
		tokens:        tokens,
		events:        events,
		logger:        logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }

	return service, nil
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) *AuthService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// LoginInput carries the credentials and request context for a login attempt.
type LoginInput struct {
	Email     string
	Password  string
	IP        *string
	UserAgent *string
	Metadata  map[string]any
}

// RefreshInput carries the expired access token, the opaque refresh token,
// and request context. The access token proves possession of the pair; its
// signature is verified but its expiry is ignored.
type RefreshInput struct {
	AccessToken  string
	RefreshToken string
	IP           *string
	UserAgent    *string
}

// LogoutInput identifies the session to terminate. The access-token fields
// come from the already-verified bearer token.
type LogoutInput struct {
	UserID               string
	TenantID             string
	AccessTokenJTI       string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
}

// TokenPair bundles the signed access token with its opaque refresh companion.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// LoginResult is the outcome of a successful login or refresh.
type LoginResult struct {
	TokenPair
	User        domain.User
	Roles       []string
	Permissions []string
}

// Login validates credentials, enforces lockout, and issues a token pair.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if input.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	identifiers := []string{"login:email:" + email}
	if input.IP != nil && *input.IP != "" {
		identifiers = append(identifiers, "login:ip:"+*input.IP)
	}
	if err := throttle(ctx, s.limiter, s.logger, s.cfg.RateLimit.LoginMaxAttempts, identifiers...); err != nil {
		return nil, err
	}

	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordAttempt(ctx, nil, email, false, input.IP, input.UserAgent)
			s.publishLoginFailed(ctx, nil, email, now, 0, false, input.IP)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	// Attempts inside the lockout window are rejected without evaluating the
	// password and without extending the window.
	if user.IsLockedOut(now) {
		s.recordAttempt(ctx, user, email, false, input.IP, input.UserAgent)
		return nil, ErrAccountLocked
	}

	if !user.IsActive {
		s.recordAttempt(ctx, user, email, false, input.IP, input.UserAgent)
		return nil, ErrUserInactive
	}

	if !security.VerifyPassword(input.Password, user.PasswordHash) {
		lockoutArmed := user.RegisterFailedLogin(now, s.cfg.Lockout.MaxFailedAttempts, s.cfg.Lockout.Window)
		user.UpdatedAt = now
		if err := s.users.Save(ctx, *user); err != nil {
			return nil, fmt.Errorf("persist failed login: %w", err)
		}

		s.recordAttempt(ctx, user, email, false, input.IP, input.UserAgent)
		s.publishLoginFailed(ctx, user, email, now, user.FailedLoginCount, lockoutArmed, input.IP)

		if lockoutArmed {
			s.publishAccountLocked(ctx, user, now)
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	user.RegisterSuccessfulLogin(now)
	user.UpdatedAt = now
	if err := s.users.Save(ctx, *user); err != nil {
		return nil, fmt.Errorf("persist successful login: %w", err)
	}
	s.recordAttempt(ctx, user, email, true, input.IP, input.UserAgent)

	roles, permissions, err := s.collectAuthorization(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, _, err := s.issueTokenPair(ctx, user, roles, permissions, input.IP, input.UserAgent, map[string]any{
		"source": "login",
	})
	if err != nil {
		return nil, err
	}

	s.publishLoginSucceeded(ctx, user, email, now, input.IP, input.Metadata)

	sanitized := *user
	sanitized.PasswordHash = ""

	return &LoginResult{
		TokenPair:   *pair,
		User:        sanitized,
		Roles:       roles,
		Permissions: permissions,
	}, nil
}

// Refresh exchanges an expired access token plus its opaque refresh companion
// for a fresh pair. Each refresh token can be exchanged at most once;
// presenting a consumed or revoked token tears down every active session of
// the owning user.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (*LoginResult, error) {
	raw := strings.TrimSpace(input.RefreshToken)
	if raw == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	signed := strings.TrimSpace(input.AccessToken)
	if signed == "" {
		return nil, fmt.Errorf("access token is required")
	}

	if input.IP != nil && *input.IP != "" {
		if err := throttle(ctx, s.limiter, s.logger, s.cfg.RateLimit.RefreshMaxAttempts, "refresh:ip:"+*input.IP); err != nil {
			return nil, err
		}
	}

	// The access token only identifies the subject here. Signature, issuer,
	// and audience are enforced; expiry is not, since the token is usually
	// past its lifetime by the time the client refreshes.
	presented, err := s.tokens.ParseExpiredToken(signed)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	record, err := s.refreshTokens.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	// A refresh token paired with another subject's access token is rejected
	// outright. No reuse cascade: a mixed pair proves nothing about the
	// owner's other sessions.
	if record.UserID != presented.UserID {
		s.logger.Warn("refresh token subject mismatch",
			zap.String("token_user_id", record.UserID),
			zap.String("access_user_id", presented.UserID),
		)
		return nil, ErrInvalidRefreshToken
	}

	now := s.now()

	// Expiry wins over every other state: an expired token is plain invalid
	// and never triggers the reuse cascade.
	if record.IsExpired(now) {
		return nil, ErrInvalidRefreshToken
	}

	if record.IsUsed() || record.IsRevoked() {
		s.handleReuse(ctx, record, now)
		return nil, ErrInvalidRefreshToken
	}

	won, err := s.refreshTokens.MarkUsed(ctx, record.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if !won {
		s.handleReuse(ctx, record, now)
		return nil, ErrInvalidRefreshToken
	}

	// The superseded access token dies with the rotation, not at its natural
	// expiry.
	if err := s.blacklistRotatedJTI(ctx, record, now); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	roles, permissions, err := s.collectAuthorization(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, claims, err := s.issueTokenPair(ctx, user, roles, permissions, input.IP, input.UserAgent, map[string]any{
		"source":       "refresh",
		"rotated_from": record.ID,
	})
	if err != nil {
		return nil, err
	}

	s.publishTokenRefreshed(ctx, user, record, claims.ID, now)

	sanitized := *user
	sanitized.PasswordHash = ""

	return &LoginResult{
		TokenPair:   *pair,
		User:        sanitized,
		Roles:       roles,
		Permissions: permissions,
	}, nil
}

// Logout revokes the presented refresh token and blacklists the access token
// jti. Unknown or already-revoked tokens do not fail the call.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	now := s.now()
	revoked := 0

	if raw := strings.TrimSpace(input.RefreshToken); raw != "" {
		found, err := s.refreshTokens.Revoke(ctx, security.HashToken(raw), reasonLogout)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if found {
			revoked = 1
		}
	}

	if jti := strings.TrimSpace(input.AccessTokenJTI); jti != "" && s.blacklist != nil {
		expiresAt := input.AccessTokenExpiresAt
		if expiresAt.IsZero() {
			expiresAt = now.Add(s.cfg.JWT.AccessTokenTTL)
		}

		entry := domain.BlacklistedToken{
			JTI:           jti,
			UserID:        input.UserID,
			TenantID:      input.TenantID,
			Reason:        reasonLogout,
			BlacklistedAt: now,
			ExpiresAt:     expiresAt.Add(s.cfg.Cache.BlacklistTTLMargin),
		}
		if err := s.blacklist.Add(ctx, entry); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}

	s.publishSessionRevoked(ctx, input.UserID, input.TenantID, reasonLogout, revoked, now)

	return nil
}

// RevokeAllSessions revokes every refresh token of the user and blacklists
// all access jtis that could still be live. Returns the number of refresh
// tokens revoked.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID, tenantID, reason string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "revoked_all"
	}

	count, err := s.refreshTokens.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}

	if s.blacklist != nil {
		if _, err := s.blacklist.BlacklistUser(ctx, userID, reason); err != nil {
			return count, fmt.Errorf("blacklist user tokens: %w", err)
		}
	}

	s.publishSessionRevoked(ctx, userID, tenantID, reason, count, s.now())

	return count, nil
}

func (s *AuthService) issueTokenPair(
	ctx context.Context,
	user *domain.User,
	roles, permissions []string,
	ip, userAgent *string,
	metadata map[string]any,
) (*TokenPair, *security.AccessTokenClaims, error) {
	subject := security.AccessTokenSubject{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		TenantID:    user.TenantID,
		Roles:       roles,
		Permissions: permissions,
	}
	if user.BranchID != nil {
		subject.BranchID = *user.BranchID
	}

	signed, claims, err := s.tokens.IssueAccessToken(subject)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	ttl := s.cfg.JWT.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	record := domain.RefreshToken{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		TenantID:       user.TenantID,
		TokenHash:      security.HashToken(raw),
		AccessTokenJTI: claims.ID,
		IP:             ip,
		UserAgent:      userAgent,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		Metadata:       metadataCopy(metadata),
	}

	if err := s.refreshTokens.Create(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:           signed,
		RefreshToken:          raw,
		AccessTokenExpiresAt:  claims.ExpiresAt.Time,
		RefreshTokenExpiresAt: record.ExpiresAt,
	}, claims, nil
}

// handleReuse tears down the user's whole session set after a consumed or
// revoked refresh token was presented again.
func (s *AuthService) handleReuse(ctx context.Context, record *domain.RefreshToken, now time.Time) {
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", record.UserID),
		zap.String("token_id", record.ID),
	)

	revoked, err := s.refreshTokens.RevokeAllForUser(ctx, record.UserID, reasonTokenReuse)
	if err != nil {
		s.logger.Error("revoke sessions after token reuse", zap.Error(err), zap.String("user_id", record.UserID))
		return
	}

	if s.blacklist != nil {
		if _, err := s.blacklist.BlacklistUser(ctx, record.UserID, reasonTokenReuse); err != nil {
			s.logger.Error("blacklist user after token reuse", zap.Error(err), zap.String("user_id", record.UserID))
		}
	}

	s.publishSessionRevoked(ctx, record.UserID, record.TenantID, reasonTokenReuse, revoked, now)
}

func (s *AuthService) blacklistRotatedJTI(ctx context.Context, record *domain.RefreshToken, now time.Time) error {
	if s.blacklist == nil || strings.TrimSpace(record.AccessTokenJTI) == "" {
		return nil
	}

	entry := domain.BlacklistedToken{
		JTI:           record.AccessTokenJTI,
		UserID:        record.UserID,
		TenantID:      record.TenantID,
		Reason:        reasonRotated,
		BlacklistedAt: now,
		ExpiresAt:     record.CreatedAt.Add(s.cfg.JWT.AccessTokenTTL + s.cfg.Cache.BlacklistTTLMargin),
	}
	if err := s.blacklist.Add(ctx, entry); err != nil {
		return fmt.Errorf("blacklist rotated access token: %w", err)
	}
	return nil
}

func (s *AuthService) collectAuthorization(ctx context.Context, userID string) ([]string, []string, error) {
	if s.roles == nil {
		return nil, nil, nil
	}

	assigned, err := s.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list user roles: %w", err)
	}
	if len(assigned) == 0 {
		return nil, nil, nil
	}

	permissions := make([]string, 0)
	for _, role := range assigned {
		for _, claim := range role.Claims {
			if claim.Type != domain.PermissionClaimType {
				continue
			}
			if value := strings.TrimSpace(claim.Value); value != "" {
				permissions = append(permissions, value)
			}
		}
	}

	return domain.RoleNames(assigned), permissions, nil
}

func (s *AuthService) recordAttempt(ctx context.Context, user *domain.User, email string, succeeded bool, ip, userAgent *string) {
	attempt := domain.LoginAttempt{
		Email:     email,
		Succeeded: succeeded,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: s.now(),
	}
	if user != nil {
		userID := user.ID
		tenantID := user.TenantID
		attempt.UserID = &userID
		attempt.TenantID = &tenantID
	}

	if err := s.users.RecordLoginAttempt(ctx, attempt); err != nil {
		s.logger.Warn("record login attempt", zap.Error(err))
	}
}

func (s *AuthService) publishLoginSucceeded(ctx context.Context, user *domain.User, email string, at time.Time, ip *string, metadata map[string]any) {
	if s.events == nil {
		return
	}

	event := domain.LoginSucceededEvent{
		EventID:  uuid.NewString(),
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    email,
		LoginAt:  at,
		IP:       ip,
		Metadata: metadataCopy(metadata),
	}
	if err := s.events.PublishLoginSucceeded(ctx, event); err != nil {
		s.logger.Warn("publish login succeeded event", zap.Error(err))
	}
}

func (s *AuthService) publishLoginFailed(ctx context.Context, user *domain.User, email string, at time.Time, failedAttempts int, lockoutArmed bool, ip *string) {
	if s.events == nil {
		return
	}

	event := domain.LoginFailedEvent{
		EventID:        uuid.NewString(),
		Email:          email,
		FailedAt:       at,
		FailedAttempts: failedAttempts,
		LockoutArmed:   lockoutArmed,
		IP:             ip,
	}
	if user != nil {
		userID := user.ID
		tenantID := user.TenantID
		event.UserID = &userID
		event.TenantID = &tenantID
	}

	if err := s.events.PublishLoginFailed(ctx, event); err != nil {
		s.logger.Warn("publish login failed event", zap.Error(err))
	}
}

func (s *AuthService) publishAccountLocked(ctx context.Context, user *domain.User, at time.Time) {
	if s.events == nil || user.LockoutUntil == nil {
		return
	}

	event := domain.AccountLockedEvent{
		EventID:      uuid.NewString(),
		UserID:       user.ID,
		TenantID:     user.TenantID,
		LockedAt:     at,
		LockoutUntil: *user.LockoutUntil,
	}
	if err := s.events.PublishAccountLocked(ctx, event); err != nil {
		s.logger.Warn("publish account locked event", zap.Error(err))
	}
}

func (s *AuthService) publishTokenRefreshed(ctx context.Context, user *domain.User, rotated *domain.RefreshToken, newJTI string, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.TokenRefreshedEvent{
		EventID:     uuid.NewString(),
		UserID:      user.ID,
		TenantID:    user.TenantID,
		RotatedFrom: rotated.ID,
		OldJTI:      rotated.AccessTokenJTI,
		NewJTI:      newJTI,
		RefreshedAt: at,
	}
	if err := s.events.PublishTokenRefreshed(ctx, event); err != nil {
		s.logger.Warn("publish token refreshed event", zap.Error(err))
	}
}

func (s *AuthService) publishSessionRevoked(ctx context.Context, userID, tenantID, reason string, tokensRevoked int, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.SessionRevokedEvent{
		EventID:       uuid.NewString(),
		UserID:        userID,
		TenantID:      tenantID,
		Reason:        reason,
		TokensRevoked: tokensRevoked,
		RevokedAt:     at,
	}
	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked event", zap.Error(err))
	}
}

func metadataCopy(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

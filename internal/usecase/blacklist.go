package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
)

// BlacklistService answers "is this jti revoked" on the hot path of every
// authenticated request. The durable store is authoritative; the cache in
// front only short-circuits positive verdicts, so a cache miss always falls
// through to the store.
type BlacklistService struct {
	durable     port.TokenBlacklist
	cache       port.BlacklistCache
	policy      domain.DegradationPolicy
	cacheTTLMax time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewBlacklistService constructs a BlacklistService instance.
func NewBlacklistService(
	durable port.TokenBlacklist,
	cache port.BlacklistCache,
	policy domain.DegradationPolicy,
	cacheTTLMax time.Duration,
	logger *zap.Logger,
) (*BlacklistService, error) {
	if durable == nil {
		return nil, fmt.Errorf("token blacklist store is required")
	}
	if cacheTTLMax <= 0 {
		cacheTTLMax = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &BlacklistService{
		durable:     durable,
		cache:       cache,
		policy:      policy,
		cacheTTLMax: cacheTTLMax,
		logger:      logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }

	return service, nil
}

// WithClock overrides the service clock for deterministic tests.
func (s *BlacklistService) WithClock(clock func() time.Time) *BlacklistService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// CheckToken returns nil when the jti is usable, ErrTokenBlacklisted when it
// was revoked, and ErrAuthUnavailable when revocation state could not be
// confirmed under a strict degradation policy.
func (s *BlacklistService) CheckToken(ctx context.Context, jti string) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		// Tokens without a jti cannot be revoked individually, so they are
		// not accepted at all.
		return ErrTokenBlacklisted
	}

	if s.cache != nil {
		hit, _, err := s.cache.IsBlacklisted(ctx, jti)
		switch {
		case err != nil:
			if !s.policy.AllowsFallback(domain.DegradationReasonCacheUnavailable) {
				return ErrAuthUnavailable
			}
			s.logger.Warn("blacklist cache unavailable", zap.Error(err))
		case hit:
			return ErrTokenBlacklisted
		}
	}

	blacklisted, err := s.durable.IsBlacklisted(ctx, jti)
	if err != nil {
		if !s.policy.AllowsFallback(domain.DegradationReasonStoreUnavailable) {
			return ErrAuthUnavailable
		}
		s.logger.Error("blacklist store unavailable, accepting token", zap.Error(err))
		return nil
	}
	if blacklisted {
		s.cacheVerdict(ctx, jti, "blacklisted", s.cacheTTLMax)
		return ErrTokenBlacklisted
	}

	return nil
}

// Add records a revoked jti in the durable store and primes the cache.
func (s *BlacklistService) Add(ctx context.Context, entry domain.BlacklistedToken) error {
	if strings.TrimSpace(entry.JTI) == "" {
		return fmt.Errorf("jti is required")
	}
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = s.now()
	}

	if err := s.durable.Add(ctx, entry); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl > s.cacheTTLMax {
		ttl = s.cacheTTLMax
	}
	s.cacheVerdict(ctx, entry.JTI, entry.Reason, ttl)

	return nil
}

// BlacklistUser revokes every access jti still attached to the user's
// refresh tokens. Returns the number of jtis added.
func (s *BlacklistService) BlacklistUser(ctx context.Context, userID, reason string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required")
	}

	count, err := s.durable.AddAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("blacklist user tokens: %w", err)
	}
	return count, nil
}

// CleanupExpired removes blacklist entries whose access tokens have expired
// on their own.
func (s *BlacklistService) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	count, err := s.durable.CleanupExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup blacklist: %w", err)
	}
	return count, nil
}

// cacheVerdict is best effort. The durable store already holds the truth, so
// a failed cache write costs one extra database read per check, nothing more.
func (s *BlacklistService) cacheVerdict(ctx context.Context, jti, reason string, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := s.cache.MarkBlacklisted(ctx, jti, reason, ttl); err != nil {
		s.logger.Warn("prime blacklist cache", zap.Error(err), zap.String("jti", jti))
	}
}

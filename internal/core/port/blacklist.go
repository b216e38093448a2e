package port

import (
	"context"
	"time"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
)

// TokenBlacklist persists revoked access-token identifiers. A non-expired
// entry for a jti makes the token unconditionally invalid regardless of its
// signature or claims.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	Add(ctx context.Context, entry domain.BlacklistedToken) error
	AddAllForUser(ctx context.Context, userID string, reason string) (int, error)
	CleanupExpired(ctx context.Context, before time.Time) (int, error)
}

// BlacklistCache caches positive blacklist verdicts ahead of the durable
// store for the per-request hot path.
type BlacklistCache interface {
	MarkBlacklisted(ctx context.Context, jti string, reason string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, string, error)
}

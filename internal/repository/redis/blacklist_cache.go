package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
)

const defaultBlacklistPrefix = "auth:blacklist"

// BlacklistCacheRepository caches positive blacklist verdicts in Redis. Only
// confirmed-blacklisted jtis are stored; a miss says nothing and callers fall
// through to the durable store.
type BlacklistCacheRepository struct {
	client *red.Client
	prefix string
}

// NewBlacklistCacheRepository wires a Redis client into a blacklist cache.
func NewBlacklistCacheRepository(client *red.Client, keyPrefix string) *BlacklistCacheRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultBlacklistPrefix
	}

	return &BlacklistCacheRepository{client: client, prefix: prefix}
}

// MarkBlacklisted stores the jti with its reason for the remaining lifetime
// of the underlying access token.
func (r *BlacklistCacheRepository) MarkBlacklisted(ctx context.Context, jti string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.key(jti)
	if key == "" {
		return errors.New("jti must not be empty")
	}

	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklisted jti: %w", err)
	}

	return nil
}

// IsBlacklisted reports whether the jti is cached as blacklisted and returns
// the stored reason when present.
func (r *BlacklistCacheRepository) IsBlacklisted(ctx context.Context, jti string) (bool, string, error) {
	key := r.key(jti)
	if key == "" {
		return false, "", errors.New("jti must not be empty")
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get blacklisted jti: %w", err)
	}

	return true, value, nil
}

func (r *BlacklistCacheRepository) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.BlacklistCache = (*BlacklistCacheRepository)(nil)

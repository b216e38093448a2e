package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
)

// BlacklistRepository is the authoritative jti blacklist. The Redis cache in
// front of it is an optimization; answers here are the source of truth.
type BlacklistRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	// accessTokenTTL bounds the liveness of a jti blacklisted from a
	// refresh token row, which does not record the access token expiry.
	accessTokenTTL time.Duration
	margin         time.Duration
	now            func() time.Time
}

// NewBlacklistRepository constructs a blacklist repository.
func NewBlacklistRepository(exec pgExecutor, accessTokenTTL, margin time.Duration) *BlacklistRepository {
	repo := &BlacklistRepository{
		exec:           exec,
		builder:        squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		accessTokenTTL: accessTokenTTL,
		margin:         margin,
	}
	repo.now = func() time.Time { return time.Now().UTC() }
	return repo
}

// WithClock overrides the repository clock for deterministic tests.
func (r *BlacklistRepository) WithClock(clock func() time.Time) *BlacklistRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// IsBlacklisted reports whether the jti has an unexpired blacklist entry.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	stmt := `
		SELECT EXISTS (
			SELECT 1
			  FROM auth.blacklisted_tokens
			 WHERE jti = $1
			   AND expires_at > $2
		)
	`

	var blacklisted bool
	if err := r.exec.QueryRow(ctx, stmt, jti, r.now()).Scan(&blacklisted); err != nil {
		return false, fmt.Errorf("check blacklisted jti: %w", err)
	}

	return blacklisted, nil
}

// Add records a blacklist entry. Re-adding a known jti is a no-op so
// logout and revocation paths stay idempotent.
func (r *BlacklistRepository) Add(ctx context.Context, entry domain.BlacklistedToken) error {
	stmt, args, err := r.builder.Insert("auth.blacklisted_tokens").
		Columns("jti", "user_id", "tenant_id", "reason", "blacklisted_at", "expires_at").
		Values(entry.JTI, entry.UserID, entry.TenantID, entry.Reason, entry.BlacklistedAt, entry.ExpiresAt).
		Suffix("ON CONFLICT (jti) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert blacklist entry sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}

	return nil
}

// AddAllForUser blacklists the access jti of every refresh token row recent
// enough that its paired access token may still be live. Older rows are
// skipped: their access tokens already expired on their own.
func (r *BlacklistRepository) AddAllForUser(ctx context.Context, userID string, reason string) (int, error) {
	now := r.now()
	cutoff := now.Add(-(r.accessTokenTTL + r.margin))

	stmt := `
		WITH inserted AS (
			INSERT INTO auth.blacklisted_tokens (jti, user_id, tenant_id, reason, blacklisted_at, expires_at)
			SELECT access_token_jti,
			       user_id,
			       tenant_id,
			       $2,
			       $3,
			       created_at + make_interval(secs => $4)
			  FROM auth.refresh_tokens
			 WHERE user_id = $1
			   AND created_at > $5
			   AND access_token_jti <> ''
			ON CONFLICT (jti) DO NOTHING
			RETURNING jti
		)
		SELECT COUNT(*) FROM inserted
	`

	ttlSeconds := (r.accessTokenTTL + r.margin).Seconds()

	var count int
	if err := r.exec.QueryRow(ctx, stmt, userID, reason, now, ttlSeconds, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("blacklist user jtis: %w", err)
	}

	return count, nil
}

// CleanupExpired deletes entries whose expiry passed before the cutoff.
func (r *BlacklistRepository) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("auth.blacklisted_tokens").
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired blacklist sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired blacklist entries: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.TokenBlacklist = (*BlacklistRepository)(nil)

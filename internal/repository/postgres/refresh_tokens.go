package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

const refreshTokenColumns = "id, user_id, tenant_id, token_hash, access_token_jti, ip, user_agent, " +
	"created_at, expires_at, used_at, revoked_at, metadata"

// RotationReason is stamped into the metadata of tokens revoked because a
// newer token superseded them.
const RotationReason = "rotated"

// RefreshTokenRepositoryConfig tunes caching and blacklist retention.
type RefreshTokenRepositoryConfig struct {
	// AccessTokenTTL bounds how long a rotated-out access jti stays
	// blacklisted: the jti is harmless once its token would have expired.
	AccessTokenTTL time.Duration
	// BlacklistTTLMargin pads the blacklist expiry against clock drift.
	BlacklistTTLMargin time.Duration
	// CacheTTL enables a short-lived in-process cache for GetByHash when
	// positive. Single-use enforcement never depends on this cache.
	CacheTTL time.Duration
}

// RefreshTokenRepository implements port.RefreshTokenRepository using
// PostgreSQL with an optional in-process read cache.
type RefreshTokenRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
	cfg     RefreshTokenRepositoryConfig
	cache   *gocache.Cache
	now     func() time.Time
}

// NewRefreshTokenRepository constructs a repository backed by any pool that
// satisfies pgPool.
func NewRefreshTokenRepository(pool pgPool, cfg RefreshTokenRepositoryConfig) *RefreshTokenRepository {
	repo := &RefreshTokenRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		cfg:     cfg,
	}
	repo.now = func() time.Time { return time.Now().UTC() }

	if cfg.CacheTTL > 0 {
		repo.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	return repo
}

// WithClock overrides the repository clock for deterministic tests.
func (r *RefreshTokenRepository) WithClock(clock func() time.Time) *RefreshTokenRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *RefreshTokenRepository) blacklistExpiry(issuedAt time.Time) time.Time {
	return issuedAt.Add(r.cfg.AccessTokenTTL + r.cfg.BlacklistTTLMargin)
}

// Create inserts a refresh token after revoking every previously active token
// for the owning user and blacklisting their access jtis. The whole rotation
// runs in one transaction so concurrent logins cannot leave two live chains.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return fmt.Errorf("prepare refresh token metadata: %w", err)
	}

	now := r.now()

	err = runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		active, err := r.lockActiveForUser(ctx, tx, token.UserID)
		if err != nil {
			return err
		}

		if len(active) > 0 {
			if err := r.revokeRows(ctx, tx, active, RotationReason, now); err != nil {
				return err
			}
			if err := r.blacklistRows(ctx, tx, active, RotationReason, now); err != nil {
				return err
			}
		}

		stmt, args, err := r.builder.Insert("auth.refresh_tokens").
			Columns(
				"id",
				"user_id",
				"tenant_id",
				"token_hash",
				"access_token_jti",
				"ip",
				"user_agent",
				"created_at",
				"expires_at",
				"used_at",
				"revoked_at",
				"metadata",
			).
			Values(
				token.ID,
				token.UserID,
				token.TenantID,
				token.TokenHash,
				token.AccessTokenJTI,
				optionalString(token.IP),
				optionalString(token.UserAgent),
				token.CreatedAt,
				token.ExpiresAt,
				optionalTime(token.UsedAt),
				optionalTime(token.RevokedAt),
				metadata,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert refresh token sql: %w", err)
		}

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if r.cache != nil {
		// Rotation invalidates every previously cached token for the user.
		// The cache has no per-user index, so drop everything.
		r.cache.Flush()
		r.cache.SetDefault(token.TokenHash, token)
	}

	return nil
}

// activeTokenRow is the slice of a refresh token row the rotation path needs.
type activeTokenRow struct {
	ID        string
	UserID    string
	TenantID  string
	TokenHash string
	JTI       string
	CreatedAt time.Time
}

func (r *RefreshTokenRepository) lockActiveForUser(ctx context.Context, tx pgx.Tx, userID string) ([]activeTokenRow, error) {
	stmt := `
		SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at
		  FROM auth.refresh_tokens
		 WHERE user_id = $1
		   AND used_at IS NULL
		   AND revoked_at IS NULL
		 FOR UPDATE
	`

	rows, err := tx.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("lock active refresh tokens: %w", err)
	}
	defer rows.Close()

	var active []activeTokenRow
	for rows.Next() {
		var row activeTokenRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.TenantID, &row.TokenHash, &row.JTI, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan active refresh token: %w", err)
		}
		active = append(active, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active refresh tokens: %w", err)
	}

	return active, nil
}

func (r *RefreshTokenRepository) revokeRows(ctx context.Context, tx pgx.Tx, rows []activeTokenRow, reason string, at time.Time) error {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	stmt := `
		UPDATE auth.refresh_tokens
		   SET revoked_at = $1,
		       metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{revoked_reason}', to_jsonb($2::text), true)
		 WHERE id = ANY($3)
	`

	if _, err := tx.Exec(ctx, stmt, at, reason, ids); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) blacklistRows(ctx context.Context, tx pgx.Tx, rows []activeTokenRow, reason string, at time.Time) error {
	builder := r.builder.Insert("auth.blacklisted_tokens").
		Columns("jti", "user_id", "tenant_id", "reason", "blacklisted_at", "expires_at")

	inserts := 0
	for _, row := range rows {
		if strings.TrimSpace(row.JTI) == "" {
			continue
		}
		builder = builder.Values(row.JTI, row.UserID, row.TenantID, reason, at, r.blacklistExpiry(row.CreatedAt))
		inserts++
	}
	if inserts == 0 {
		return nil
	}

	stmt, args, err := builder.Suffix("ON CONFLICT (jti) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build blacklist insert sql: %w", err)
	}

	if _, err := tx.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert blacklist entries: %w", err)
	}

	return nil
}

// GetByHash retrieves a refresh token record by its hashed value.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(hash); ok {
			if token, ok := cached.(domain.RefreshToken); ok {
				copy := token
				return &copy, nil
			}
		}
	}

	stmt, args, err := r.builder.Select(refreshTokenColumns).
		From("auth.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	token, err := r.scanToken(r.pool.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.SetDefault(token.TokenHash, *token)
	}

	return token, nil
}

func (r *RefreshTokenRepository) scanToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token     domain.RefreshToken
		ip        sql.NullString
		userAgent sql.NullString
		usedAt    sql.NullTime
		revokedAt sql.NullTime
		metadata  []byte
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TenantID,
		&token.TokenHash,
		&token.AccessTokenJTI,
		&ip,
		&userAgent,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
		&metadata,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	if ip.Valid {
		value := ip.String
		token.IP = &value
	}
	if userAgent.Valid {
		value := userAgent.String
		token.UserAgent = &value
	}
	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	if len(metadata) > 0 {
		meta, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("unmarshal refresh metadata: %w", err)
		}
		token.Metadata = meta
	}

	return &token, nil
}

// MarkUsed flips used_at only when the row is still active. The bool reports
// whether this caller won the transition; a concurrent consumer losing the
// race observes false.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark refresh token used sql: %w", err)
	}

	ct, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("mark refresh token used: %w", err)
	}

	if r.cache != nil {
		// The cached copy no longer reflects used_at. Cheapest correct
		// move is to drop the whole cache; single-use enforcement lives
		// in the conditional UPDATE above, not here.
		r.cache.Flush()
	}

	return ct.RowsAffected() > 0, nil
}

// Revoke marks the token matching the hash revoked and blacklists its access
// jti. Absent hashes report false; an already-revoked token reports true
// without a second blacklist write.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, reason string) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked"
	}

	now := r.now()
	found := false

	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		stmt := `
			SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at, revoked_at
			  FROM auth.refresh_tokens
			 WHERE token_hash = $1
			 FOR UPDATE
		`

		var (
			row       activeTokenRow
			revokedAt sql.NullTime
		)
		err := tx.QueryRow(ctx, stmt, hash).Scan(
			&row.ID,
			&row.UserID,
			&row.TenantID,
			&row.TokenHash,
			&row.JTI,
			&row.CreatedAt,
			&revokedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select refresh token for revoke: %w", err)
		}

		found = true
		if revokedAt.Valid {
			return nil
		}

		if err := r.revokeRows(ctx, tx, []activeTokenRow{row}, reason, now); err != nil {
			return err
		}
		return r.blacklistRows(ctx, tx, []activeTokenRow{row}, reason, now)
	})
	if err != nil {
		return false, err
	}

	if found && r.cache != nil {
		r.cache.Delete(hash)
	}

	return found, nil
}

// RevokeAllForUser revokes every active refresh token for the user and
// blacklists their access jtis. Returns the number of tokens revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked"
	}

	now := r.now()
	revoked := 0

	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		active, err := r.lockActiveForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}

		if err := r.revokeRows(ctx, tx, active, reason, now); err != nil {
			return err
		}
		if err := r.blacklistRows(ctx, tx, active, reason, now); err != nil {
			return err
		}

		revoked = len(active)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if revoked > 0 && r.cache != nil {
		r.cache.Flush()
	}

	return revoked, nil
}

// ListActiveForUser returns the user's unconsumed, unrevoked, unexpired tokens.
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns).
		From("auth.refresh_tokens").
		Where(squirrel.Eq{"user_id": userID}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": r.now()}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active refresh tokens sql: %w", err)
	}

	rows, err := r.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query active refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]domain.RefreshToken, 0)
	for rows.Next() {
		token, err := r.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active refresh tokens: %w", err)
	}

	return tokens, nil
}

// DeleteExpired removes rows whose validity window closed before the cutoff.
// Rotated and revoked rows inside the window stay for audit.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("auth.refresh_tokens").
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired refresh tokens sql: %w", err)
	}

	ct, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

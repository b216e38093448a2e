package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

// PasswordResetTokenRepository implements port.PasswordResetTokenRepository
// using PostgreSQL.
type PasswordResetTokenRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewPasswordResetTokenRepository constructs a reset token repository.
func NewPasswordResetTokenRepository(pool pgPool) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create stores a reset token after dropping any outstanding token for the
// same user. Only the newest reset link a user requested can redeem.
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token domain.PasswordResetToken) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		deleteStmt, deleteArgs, err := r.builder.Delete("auth.password_reset_tokens").
			Where(squirrel.Eq{"user_id": token.UserID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build delete prior reset tokens sql: %w", err)
		}

		if _, err := tx.Exec(ctx, deleteStmt, deleteArgs...); err != nil {
			return fmt.Errorf("delete prior reset tokens: %w", err)
		}

		insertStmt, insertArgs, err := r.builder.Insert("auth.password_reset_tokens").
			Columns("id", "user_id", "tenant_id", "token_hash", "created_at", "expires_at").
			Values(token.ID, token.UserID, token.TenantID, token.TokenHash, token.CreatedAt, token.ExpiresAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert reset token sql: %w", err)
		}

		if _, err := tx.Exec(ctx, insertStmt, insertArgs...); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}

		return nil
	})
}

// GetByHash retrieves a reset token record by its hashed value.
func (r *PasswordResetTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	stmt, args, err := r.builder.Select("id, user_id, tenant_id, token_hash, created_at, expires_at").
		From("auth.password_reset_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select reset token sql: %w", err)
	}

	var token domain.PasswordResetToken
	err = r.pool.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TenantID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan reset token: %w", err)
	}

	return &token, nil
}

// ConsumeAndSetPassword redeems the reset token and writes the new password
// hash in one transaction. A token deleted by a concurrent redeem surfaces as
// repository.ErrNotFound, so a reset link can never apply twice.
func (r *PasswordResetTokenRepository) ConsumeAndSetPassword(ctx context.Context, tokenID, userID, passwordHash string, at time.Time) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		deleteStmt, deleteArgs, err := r.builder.Delete("auth.password_reset_tokens").
			Where(squirrel.Eq{"id": tokenID}).
			Where(squirrel.Eq{"user_id": userID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build consume reset token sql: %w", err)
		}

		ct, err := tx.Exec(ctx, deleteStmt, deleteArgs...)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return repository.ErrNotFound
		}

		updateStmt, updateArgs, err := r.builder.Update("auth.users").
			Set("password_hash", passwordHash).
			Set("updated_at", at.UTC()).
			Where(squirrel.Eq{"id": userID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update password sql: %w", err)
		}

		ct, err = tx.Exec(ctx, updateStmt, updateArgs...)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return repository.ErrNotFound
		}

		return nil
	})
}

// DeleteExpired removes reset tokens that expired before the cutoff.
func (r *PasswordResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("auth.password_reset_tokens").
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired reset tokens sql: %w", err)
	}

	ct, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)

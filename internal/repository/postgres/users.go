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

const userColumns = "id, tenant_id, branch_id, email, display_name, password_hash, " +
	"failed_login_count, lockout_until, is_active, last_login_at, created_at, updated_at"

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		exec:    tx,
		builder: r.builder,
	}
}

// GetByEmail retrieves a user by email. The lookup is case-insensitive.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns).
		From("auth.users").
		Where(squirrel.Expr("LOWER(email) = LOWER(?)", email)).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by email sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns).
		From("auth.users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

func (r *UserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user         domain.User
		branchID     sql.NullString
		lockoutUntil sql.NullTime
		lastLoginAt  sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.TenantID,
		&branchID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.FailedLoginCount,
		&lockoutUntil,
		&user.IsActive,
		&lastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if branchID.Valid {
		value := branchID.String
		user.BranchID = &value
	}
	if lockoutUntil.Valid {
		t := lockoutUntil.Time
		user.LockoutUntil = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}

	return &user, nil
}

// Save persists the mutable auth facet of a user: lockout counters, lockout
// window, activity flag, and the last-login stamp.
func (r *UserRepository) Save(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("failed_login_count", user.FailedLoginCount).
		Set("lockout_until", optionalTime(user.LockoutUntil)).
		Set("is_active", user.IsActive).
		Set("last_login_at", optionalTime(user.LastLoginAt)).
		Set("updated_at", user.UpdatedAt).
		Where(squirrel.Eq{"id": user.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdatePassword updates a user's password hash and change timestamp.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("password_hash", passwordHash).
		Set("updated_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RecordLoginAttempt appends an audit row for a login attempt. Failures here
// never block authentication; callers log and continue.
func (r *UserRepository) RecordLoginAttempt(ctx context.Context, attempt domain.LoginAttempt) error {
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	builder := r.builder.Insert("auth.login_attempts").
		Columns("user_id", "tenant_id", "email", "succeeded", "ip", "user_agent", "created_at").
		Values(
			optionalString(attempt.UserID),
			optionalString(attempt.TenantID),
			attempt.Email,
			attempt.Succeeded,
			optionalString(attempt.IP),
			optionalString(attempt.UserAgent),
			createdAt,
		)
	if attempt.ID != "" {
		builder = r.builder.Insert("auth.login_attempts").
			Columns("id", "user_id", "tenant_id", "email", "succeeded", "ip", "user_agent", "created_at").
			Values(
				attempt.ID,
				optionalString(attempt.UserID),
				optionalString(attempt.TenantID),
				attempt.Email,
				attempt.Succeeded,
				optionalString(attempt.IP),
				optionalString(attempt.UserAgent),
				createdAt,
			)
	}

	stmt, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build insert login attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}

	return nil
}

func optionalString(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func optionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

var _ port.UserRepository = (*UserRepository)(nil)

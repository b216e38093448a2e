package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

func newRefreshTokenTestRepo(t *testing.T, cacheTTL time.Duration) (pgxmock.PgxPoolIface, *RefreshTokenRepository, time.Time) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := NewRefreshTokenRepository(mock, RefreshTokenRepositoryConfig{
		AccessTokenTTL:     15 * time.Minute,
		BlacklistTTLMargin: time.Minute,
		CacheTTL:           cacheTTL,
	}).WithClock(func() time.Time { return base })

	return mock, repo, base
}

func TestRefreshTokenRepository_Create_RotatesActiveChain(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	oldCreated := base.Add(-10 * time.Minute)
	ip := "203.0.113.20"

	token := domain.RefreshToken{
		ID:             "token-new",
		UserID:         "user-1",
		TenantID:       "tenant-1",
		TokenHash:      "hash-new",
		AccessTokenJTI: "jti-new",
		IP:             &ip,
		CreatedAt:      base,
		ExpiresAt:      base.Add(168 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at.*FROM auth\.refresh_tokens.*FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at",
		}).AddRow(
			"token-old", "user-1", "tenant-1", "hash-old", "jti-old", oldCreated,
		))
	mock.ExpectExec(`(?s)UPDATE auth\.refresh_tokens.*SET revoked_at`).
		WithArgs(base, RotationReason, []string{"token-old"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO auth\.blacklisted_tokens`).
		WithArgs("jti-old", "user-1", "tenant-1", RotationReason, base, oldCreated.Add(16*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO auth\.refresh_tokens`).
		WithArgs(
			token.ID,
			token.UserID,
			token.TenantID,
			token.TokenHash,
			token.AccessTokenJTI,
			ip,
			nil,
			token.CreatedAt,
			token.ExpiresAt,
			nil,
			nil,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_Create_FirstTokenSkipsRotation(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	token := domain.RefreshToken{
		ID:             "token-1",
		UserID:         "user-2",
		TenantID:       "tenant-1",
		TokenHash:      "hash-1",
		AccessTokenJTI: "jti-1",
		CreatedAt:      base,
		ExpiresAt:      base.Add(168 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at.*FOR UPDATE`).
		WithArgs("user-2").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at",
		}))
	mock.ExpectExec(`INSERT INTO auth\.refresh_tokens`).
		WithArgs(
			token.ID, token.UserID, token.TenantID, token.TokenHash, token.AccessTokenJTI,
			nil, nil, token.CreatedAt, token.ExpiresAt, nil, nil, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_GetByHash(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	usedAt := base.Add(-time.Minute)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "ip", "user_agent",
		"created_at", "expires_at", "used_at", "revoked_at", "metadata",
	}).AddRow(
		"token-1", "user-1", "tenant-1", "hash-1", "jti-1", "198.51.100.4", nil,
		base.Add(-time.Hour), base.Add(167*time.Hour), usedAt, nil, []byte(`{"channel":"web"}`),
	)

	mock.ExpectQuery(`SELECT .*FROM auth\.refresh_tokens WHERE token_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(rows)

	token, err := repo.GetByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("GetByHash returned error: %v", err)
	}
	if token.ID != "token-1" || token.AccessTokenJTI != "jti-1" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if token.IP == nil || *token.IP != "198.51.100.4" {
		t.Fatalf("expected ip populated")
	}
	if token.UsedAt == nil || !token.UsedAt.Equal(usedAt) {
		t.Fatalf("expected used_at %v, got %v", usedAt, token.UsedAt)
	}
	if token.Metadata["channel"] != "web" {
		t.Fatalf("expected metadata channel, got %+v", token.Metadata)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_GetByHash_CachesReads(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 30*time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "ip", "user_agent",
		"created_at", "expires_at", "used_at", "revoked_at", "metadata",
	}).AddRow(
		"token-1", "user-1", "tenant-1", "hash-1", "jti-1", nil, nil,
		base, base.Add(168*time.Hour), nil, nil, nil,
	)

	// One database round trip serves both reads.
	mock.ExpectQuery(`SELECT .*FROM auth\.refresh_tokens WHERE token_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(rows)

	first, err := repo.GetByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("first GetByHash returned error: %v", err)
	}
	second, err := repo.GetByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("second GetByHash returned error: %v", err)
	}
	if first.ID != second.ID || second.ID != "token-1" {
		t.Fatalf("expected cached copy of token-1, got %+v", second)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_GetByHash_NotFound(t *testing.T) {
	mock, repo, _ := newRefreshTokenTestRepo(t, 0)

	mock.ExpectQuery(`SELECT .*FROM auth\.refresh_tokens`).
		WithArgs("hash-404").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "ip", "user_agent",
			"created_at", "expires_at", "used_at", "revoked_at", "metadata",
		}))

	if _, err := repo.GetByHash(context.Background(), "hash-404"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_MarkUsed_WinsRace(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	usedAt := base.Add(time.Second)

	mock.ExpectExec(`UPDATE auth\.refresh_tokens SET used_at = \$1 WHERE id = \$2 AND used_at IS NULL AND revoked_at IS NULL`).
		WithArgs(usedAt, "token-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	won, err := repo.MarkUsed(context.Background(), "token-1", usedAt)
	if err != nil {
		t.Fatalf("MarkUsed returned error: %v", err)
	}
	if !won {
		t.Fatalf("expected first consumer to win the transition")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_MarkUsed_LosesRace(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	mock.ExpectExec(`UPDATE auth\.refresh_tokens SET used_at`).
		WithArgs(base, "token-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.MarkUsed(context.Background(), "token-1", base)
	if err != nil {
		t.Fatalf("MarkUsed returned error: %v", err)
	}
	if won {
		t.Fatalf("expected second consumer to lose the transition")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_Revoke(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	created := base.Add(-5 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at, revoked_at.*FOR UPDATE`).
		WithArgs("hash-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at", "revoked_at",
		}).AddRow(
			"token-1", "user-1", "tenant-1", "hash-1", "jti-1", created, nil,
		))
	mock.ExpectExec(`(?s)UPDATE auth\.refresh_tokens.*SET revoked_at`).
		WithArgs(base, "logout", []string{"token-1"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO auth\.blacklisted_tokens`).
		WithArgs("jti-1", "user-1", "tenant-1", "logout", base, created.Add(16*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	found, err := repo.Revoke(context.Background(), "hash-1", "logout")
	if err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if !found {
		t.Fatalf("expected revoke to report the token found")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_Revoke_UnknownHash(t *testing.T) {
	mock, repo, _ := newRefreshTokenTestRepo(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at, revoked_at.*FOR UPDATE`).
		WithArgs("hash-404").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at", "revoked_at",
		}))
	mock.ExpectCommit()

	found, err := repo.Revoke(context.Background(), "hash-404", "logout")
	if err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if found {
		t.Fatalf("expected unknown hash to report false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_Revoke_AlreadyRevoked(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	revokedAt := base.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at, revoked_at.*FOR UPDATE`).
		WithArgs("hash-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at", "revoked_at",
		}).AddRow(
			"token-1", "user-1", "tenant-1", "hash-1", "jti-1", base.Add(-10*time.Minute), revokedAt,
		))
	mock.ExpectCommit()

	found, err := repo.Revoke(context.Background(), "hash-1", "logout")
	if err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if !found {
		t.Fatalf("expected repeated revoke to stay idempotent and report true")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_RevokeAllForUser(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	firstCreated := base.Add(-3 * time.Minute)
	secondCreated := base.Add(-8 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, user_id, tenant_id, token_hash, access_token_jti, created_at.*FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "created_at",
		}).AddRow(
			"token-1", "user-1", "tenant-1", "hash-1", "jti-1", firstCreated,
		).AddRow(
			"token-2", "user-1", "tenant-1", "hash-2", "jti-2", secondCreated,
		))
	mock.ExpectExec(`(?s)UPDATE auth\.refresh_tokens.*SET revoked_at`).
		WithArgs(base, "password_changed", []string{"token-1", "token-2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`INSERT INTO auth\.blacklisted_tokens`).
		WithArgs(
			"jti-1", "user-1", "tenant-1", "password_changed", base, firstCreated.Add(16*time.Minute),
			"jti-2", "user-1", "tenant-1", "password_changed", base, secondCreated.Add(16*time.Minute),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	count, err := repo.RevokeAllForUser(context.Background(), "user-1", "password_changed")
	if err != nil {
		t.Fatalf("RevokeAllForUser returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tokens revoked, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_ListActiveForUser(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "tenant_id", "token_hash", "access_token_jti", "ip", "user_agent",
		"created_at", "expires_at", "used_at", "revoked_at", "metadata",
	}).AddRow(
		"token-2", "user-1", "tenant-1", "hash-2", "jti-2", nil, nil,
		base.Add(-time.Minute), base.Add(168*time.Hour), nil, nil, nil,
	).AddRow(
		"token-1", "user-1", "tenant-1", "hash-1", "jti-1", nil, nil,
		base.Add(-time.Hour), base.Add(167*time.Hour), nil, nil, nil,
	)

	mock.ExpectQuery(`SELECT .*FROM auth\.refresh_tokens WHERE user_id = \$1`).
		WithArgs("user-1", base).
		WillReturnRows(rows)

	tokens, err := repo.ListActiveForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListActiveForUser returned error: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected two active tokens, got %d", len(tokens))
	}
	if tokens[0].ID != "token-2" || tokens[1].ID != "token-1" {
		t.Fatalf("unexpected token order: %+v", tokens)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_DeleteExpired(t *testing.T) {
	mock, repo, base := newRefreshTokenTestRepo(t, 0)

	cutoff := base.Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM auth\.refresh_tokens WHERE expires_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	deleted, err := repo.DeleteExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 rows deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

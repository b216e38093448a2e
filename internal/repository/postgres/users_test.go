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

func TestUserRepository_GetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	now := time.Now().UTC()
	branchID := "branch-7"
	lastLogin := now.Add(-2 * time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "branch_id", "email", "display_name", "password_hash",
		"failed_login_count", "lockout_until", "is_active", "last_login_at", "created_at", "updated_at",
	}).AddRow(
		"user-1", "tenant-1", branchID, "dana@pharmacy.example", "Dana Reyes", "210000.c2FsdA.a2V5",
		2, nil, true, lastLogin, now.Add(-72*time.Hour), now,
	)

	mock.ExpectQuery(`SELECT .*FROM auth\.users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("Dana@Pharmacy.Example").
		WillReturnRows(rows)

	user, err := repo.GetByEmail(context.Background(), "Dana@Pharmacy.Example")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.ID != "user-1" || user.TenantID != "tenant-1" {
		t.Fatalf("unexpected identity: %+v", user)
	}
	if user.BranchID == nil || *user.BranchID != branchID {
		t.Fatalf("expected branch pointer populated")
	}
	if user.LockoutUntil != nil {
		t.Fatalf("expected nil lockout, got %v", user.LockoutUntil)
	}
	if user.LastLoginAt == nil || !user.LastLoginAt.Equal(lastLogin) {
		t.Fatalf("expected last login %v, got %v", lastLogin, user.LastLoginAt)
	}
	if user.FailedLoginCount != 2 {
		t.Fatalf("expected failed count 2, got %d", user.FailedLoginCount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery(`SELECT .*FROM auth\.users`).
		WithArgs("ghost@pharmacy.example").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "branch_id", "email", "display_name", "password_hash",
			"failed_login_count", "lockout_until", "is_active", "last_login_at", "created_at", "updated_at",
		}))

	if _, err := repo.GetByEmail(context.Background(), "ghost@pharmacy.example"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	now := time.Now().UTC()
	lockout := now.Add(15 * time.Minute)
	user := domain.User{
		ID:               "user-1",
		FailedLoginCount: 5,
		LockoutUntil:     &lockout,
		IsActive:         true,
		UpdatedAt:        now,
	}

	mock.ExpectExec(`UPDATE auth\.users SET failed_login_count`).
		WithArgs(user.FailedLoginCount, lockout, user.IsActive, nil, now, user.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.Save(context.Background(), user); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_Save_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectExec(`UPDATE auth\.users`).
		WithArgs(0, nil, true, nil, pgxmock.AnyArg(), "user-404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Save(context.Background(), domain.User{ID: "user-404", IsActive: true, UpdatedAt: time.Now().UTC()})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	changedAt := time.Now().UTC()

	mock.ExpectExec(`UPDATE auth\.users SET password_hash`).
		WithArgs("210000.bmV3c2FsdA.bmV3a2V5", changedAt, "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.UpdatePassword(context.Background(), "user-1", "210000.bmV3c2FsdA.bmV3a2V5", changedAt); err != nil {
		t.Fatalf("UpdatePassword returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_RecordLoginAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	userID := "user-1"
	tenantID := "tenant-1"
	ip := "203.0.113.9"
	attempt := domain.LoginAttempt{
		UserID:    &userID,
		TenantID:  &tenantID,
		Email:     "dana@pharmacy.example",
		Succeeded: false,
		IP:        &ip,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO auth\.login_attempts`).
		WithArgs(userID, tenantID, attempt.Email, false, ip, nil, attempt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.RecordLoginAttempt(context.Background(), attempt); err != nil {
		t.Fatalf("RecordLoginAttempt returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

type passwordServiceDeps struct {
	users   *testUserRepo
	reset   *testResetTokenRepo
	refresh *testRefreshTokenRepo
	store   *testBlacklistStore
	cache   *testBlacklistCache
	events  *testEventSink
	limiter *RateLimiter
}

func newTestPasswordService(t *testing.T, deps *passwordServiceDeps) *PasswordService {
	t.Helper()

	if deps.users == nil {
		deps.users = newTestUserRepo()
	}
	if deps.reset == nil {
		deps.reset = newTestResetTokenRepo()
	}
	if deps.refresh == nil {
		deps.refresh = newTestRefreshTokenRepo()
	}
	if deps.store == nil {
		deps.store = newTestBlacklistStore()
	}
	if deps.cache == nil {
		deps.cache = newTestBlacklistCache()
	}
	if deps.events == nil {
		deps.events = newTestEventSink()
	}

	blacklist := newTestBlacklistService(t, deps.store, deps.cache, domain.DegradationPolicyModeLenient)

	service, err := NewPasswordService(newTestConfig(), deps.users, deps.reset, deps.refresh, blacklist,
		security.DefaultPasswordValidator(0), deps.limiter, deps.events, nil)
	if err != nil {
		t.Fatalf("create password service: %v", err)
	}

	return service.WithClock(testClock)
}

func TestPasswordService_ChangePassword_Success(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	err := service.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "user-1",
		CurrentPassword: "OldPass!234",
		NewPassword:     "NewPass!567",
	})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	stored := deps.users.users["user-1"]
	if !security.VerifyPassword("NewPass!567", stored.PasswordHash) {
		t.Fatal("new password does not verify against the stored hash")
	}
	if security.VerifyPassword("OldPass!234", stored.PasswordHash) {
		t.Fatal("old password still verifies")
	}
	if !stored.UpdatedAt.Equal(testNow) {
		t.Fatalf("updated-at not stamped: %s", stored.UpdatedAt)
	}

	// A self-service change proves possession of the old credential, so
	// existing sessions stay alive.
	if len(deps.refresh.revokedAll) != 0 {
		t.Fatalf("sessions must survive a password change, got %v", deps.refresh.revokedAll)
	}

	if len(deps.events.passwordChanged) != 1 {
		t.Fatalf("expected one password changed event, got %d", len(deps.events.passwordChanged))
	}
	if deps.events.passwordChanged[0].ChangedBy != "user" {
		t.Fatalf("unexpected actor: %s", deps.events.passwordChanged[0].ChangedBy)
	}
}

func TestPasswordService_ChangePassword_WrongCurrentPassword(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	err := service.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "user-1",
		CurrentPassword: "not-the-password",
		NewPassword:     "NewPass!567",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if security.VerifyPassword("NewPass!567", deps.users.users["user-1"].PasswordHash) {
		t.Fatal("password must not change")
	}
}

func TestPasswordService_ChangePassword_SamePassword(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	err := service.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "user-1",
		CurrentPassword: "OldPass!234",
		NewPassword:     "OldPass!234",
	})
	if !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}
}

func TestPasswordService_ChangePassword_WeakPasswordRejected(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	err := service.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "user-1",
		CurrentPassword: "OldPass!234",
		NewPassword:     "weak",
	})

	var validationErr *security.PasswordValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected a policy violation, got %v", err)
	}
	if len(deps.events.passwordChanged) != 0 {
		t.Fatal("no event may fire for a rejected change")
	}
}

func TestPasswordService_ForgotPassword_IssuesToken(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	ip := "203.0.113.7"
	result, err := service.ForgotPassword(context.Background(), ForgotPasswordInput{
		Email: "Dana@Pharmacy.Example",
		IP:    &ip,
	})
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if result == nil || result.Token == "" {
		t.Fatal("expected a reset token for a known active account")
	}
	if !result.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %s", result.ExpiresAt)
	}

	if len(deps.reset.created) != 1 {
		t.Fatalf("expected one stored reset token, got %d", len(deps.reset.created))
	}
	created := deps.reset.created[0]
	if created.TokenHash != security.HashToken(result.Token) {
		t.Fatal("stored hash does not match the issued token")
	}
	if created.UserID != "user-1" || created.TenantID != "tenant-1" {
		t.Fatalf("unexpected owner: %+v", created)
	}

	if len(deps.events.resetRequested) != 1 {
		t.Fatalf("expected one reset requested event, got %d", len(deps.events.resetRequested))
	}
	event := deps.events.resetRequested[0]
	if event.MaskedEmail != "dan***@pharmacy.example" {
		t.Fatalf("email not masked: %s", event.MaskedEmail)
	}
}

func TestPasswordService_ForgotPassword_UnknownEmail(t *testing.T) {
	deps := &passwordServiceDeps{users: newTestUserRepo()}
	service := newTestPasswordService(t, deps)

	result, err := service.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "nobody@pharmacy.example"})
	if err != nil {
		t.Fatalf("unknown emails must not error: %v", err)
	}
	if result != nil {
		t.Fatal("unknown emails must not yield a token")
	}
	if len(deps.reset.created) != 0 || len(deps.events.resetRequested) != 0 {
		t.Fatal("nothing may be stored or published for unknown emails")
	}
}

func TestPasswordService_ForgotPassword_InactiveAccount(t *testing.T) {
	user := activeTestUser(t, "OldPass!234")
	user.IsActive = false

	deps := &passwordServiceDeps{users: newTestUserRepo(user)}
	service := newTestPasswordService(t, deps)

	result, err := service.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "dana@pharmacy.example"})
	if err != nil || result != nil {
		t.Fatalf("inactive accounts behave like unknown ones, got result=%v err=%v", result, err)
	}
	if len(deps.reset.created) != 0 {
		t.Fatal("no token may be issued for inactive accounts")
	}
}

func TestPasswordService_ForgotPassword_RateLimited(t *testing.T) {
	store := newTestRateLimitStore()
	for i := 1; i <= 3; i++ {
		store.attempts["password_reset:email:dana@pharmacy.example"] = append(
			store.attempts["password_reset:email:dana@pharmacy.example"],
			testNow.Add(-time.Duration(i)*time.Second),
		)
	}

	limiter, err := NewRateLimiter(store, time.Minute)
	if err != nil {
		t.Fatalf("create limiter: %v", err)
	}
	limiter.WithClock(testClock)

	deps := &passwordServiceDeps{users: newTestUserRepo(), limiter: limiter}
	service := newTestPasswordService(t, deps)

	_, err = service.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "dana@pharmacy.example"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPasswordService_ResetPassword_Success(t *testing.T) {
	raw := "raw-reset-token"
	user := activeTestUser(t, "OldPass!234")
	record := &domain.PasswordResetToken{
		ID:        "prt-1",
		UserID:    "user-1",
		TenantID:  "tenant-1",
		TokenHash: security.HashToken(raw),
		CreatedAt: testNow.Add(-5 * time.Minute),
		ExpiresAt: testNow.Add(55 * time.Minute),
	}

	deps := &passwordServiceDeps{users: newTestUserRepo(user), reset: newTestResetTokenRepo(record)}
	service := newTestPasswordService(t, deps)
	deps.refresh.revokeAllN = 2
	deps.store.sweepCount = 2

	err := service.ResetPassword(context.Background(), ResetPasswordInput{
		Token:       raw,
		NewPassword: "NewPass!567",
	})
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if deps.reset.consumedTokenID != "prt-1" || deps.reset.consumedUserID != "user-1" {
		t.Fatalf("token not consumed: id=%s user=%s", deps.reset.consumedTokenID, deps.reset.consumedUserID)
	}
	if !security.VerifyPassword("NewPass!567", deps.reset.consumedHash) {
		t.Fatal("hash handed to the consume step does not verify")
	}

	// The old credential may be compromised; the whole session set goes.
	if deps.refresh.revokedAll["user-1"] != "password_reset" {
		t.Fatalf("expected full revocation, got %v", deps.refresh.revokedAll)
	}
	if deps.store.sweeps["user-1"] != "password_reset" {
		t.Fatalf("expected blacklist sweep, got %v", deps.store.sweeps)
	}

	if len(deps.events.resetCompleted) != 1 {
		t.Fatalf("expected one reset completed event, got %d", len(deps.events.resetCompleted))
	}
	if deps.events.resetCompleted[0].Metadata["tokens_revoked"] != 2 {
		t.Fatalf("unexpected event metadata: %v", deps.events.resetCompleted[0].Metadata)
	}
}

func TestPasswordService_ResetPassword_ExpiredToken(t *testing.T) {
	raw := "raw-reset-token"
	record := &domain.PasswordResetToken{
		ID:        "prt-1",
		UserID:    "user-1",
		TokenHash: security.HashToken(raw),
		CreatedAt: testNow.Add(-2 * time.Hour),
		ExpiresAt: testNow.Add(-time.Hour),
	}

	deps := &passwordServiceDeps{reset: newTestResetTokenRepo(record)}
	service := newTestPasswordService(t, deps)

	err := service.ResetPassword(context.Background(), ResetPasswordInput{Token: raw, NewPassword: "NewPass!567"})
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
	if deps.reset.consumedTokenID != "" {
		t.Fatal("expired tokens must not be consumed")
	}
}

func TestPasswordService_ResetPassword_UnknownToken(t *testing.T) {
	service := newTestPasswordService(t, &passwordServiceDeps{})

	err := service.ResetPassword(context.Background(), ResetPasswordInput{Token: "never-issued", NewPassword: "NewPass!567"})
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
}

func TestPasswordService_ResetPassword_LostRedemptionRace(t *testing.T) {
	raw := "raw-reset-token"
	user := activeTestUser(t, "OldPass!234")
	record := &domain.PasswordResetToken{
		ID:        "prt-1",
		UserID:    "user-1",
		TokenHash: security.HashToken(raw),
		CreatedAt: testNow.Add(-5 * time.Minute),
		ExpiresAt: testNow.Add(55 * time.Minute),
	}

	deps := &passwordServiceDeps{users: newTestUserRepo(user), reset: newTestResetTokenRepo(record)}
	service := newTestPasswordService(t, deps)
	deps.reset.consumeErr = repository.ErrNotFound

	err := service.ResetPassword(context.Background(), ResetPasswordInput{Token: raw, NewPassword: "NewPass!567"})
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken for the losing caller, got %v", err)
	}
	if len(deps.refresh.revokedAll) != 0 {
		t.Fatal("the losing caller must not revoke sessions")
	}
}

func TestPasswordService_ResetPassword_InactiveUser(t *testing.T) {
	raw := "raw-reset-token"
	user := activeTestUser(t, "OldPass!234")
	user.IsActive = false
	record := &domain.PasswordResetToken{
		ID:        "prt-1",
		UserID:    "user-1",
		TokenHash: security.HashToken(raw),
		CreatedAt: testNow.Add(-5 * time.Minute),
		ExpiresAt: testNow.Add(55 * time.Minute),
	}

	deps := &passwordServiceDeps{users: newTestUserRepo(user), reset: newTestResetTokenRepo(record)}
	service := newTestPasswordService(t, deps)

	err := service.ResetPassword(context.Background(), ResetPasswordInput{Token: raw, NewPassword: "NewPass!567"})
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestPasswordService_ResetPassword_WeakPasswordRejected(t *testing.T) {
	raw := "raw-reset-token"
	user := activeTestUser(t, "OldPass!234")
	record := &domain.PasswordResetToken{
		ID:        "prt-1",
		UserID:    "user-1",
		TokenHash: security.HashToken(raw),
		CreatedAt: testNow.Add(-5 * time.Minute),
		ExpiresAt: testNow.Add(55 * time.Minute),
	}

	deps := &passwordServiceDeps{users: newTestUserRepo(user), reset: newTestResetTokenRepo(record)}
	service := newTestPasswordService(t, deps)

	err := service.ResetPassword(context.Background(), ResetPasswordInput{Token: raw, NewPassword: "weak"})

	var validationErr *security.PasswordValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected a policy violation, got %v", err)
	}
	if deps.reset.consumedTokenID != "" {
		t.Fatal("rejected passwords must not consume the token")
	}
}

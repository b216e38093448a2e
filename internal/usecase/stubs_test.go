package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/config"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/repository"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func createTestKeyProvider(t *testing.T) *security.FileKeyProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "auth-signing-test.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write signing key: %v", err)
	}

	provider, err := security.NewFileKeyProvider(security.FileKeyProviderConfig{PrivateKeyPath: path})
	if err != nil {
		t.Fatalf("create key provider: %v", err)
	}

	return provider
}

func newTestJWTManager(t *testing.T) *security.JWTManager {
	t.Helper()

	provider := createTestKeyProvider(t)
	manager, err := security.NewJWTManager(provider, security.SignerSettings{
		Issuer:         "pharmacy-platform-auth",
		Audience:       []string{"pharmacy-platform"},
		KID:            provider.SigningKID(),
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("create jwt manager: %v", err)
	}

	return manager.WithClock(testClock)
}

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		JWT: config.JWTSettings{
			Issuer:          "pharmacy-platform-auth",
			Audience:        []string{"pharmacy-platform"},
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 168 * time.Hour,
			ResetTokenTTL:   time.Hour,
		},
		Lockout: config.LockoutSettings{
			MaxFailedAttempts: 5,
			Window:            15 * time.Minute,
		},
		RateLimit: config.RateLimitSettings{
			WindowDuration:           time.Minute,
			LoginMaxAttempts:         10,
			RefreshMaxAttempts:       30,
			PasswordResetMaxAttempts: 3,
		},
		Cache: config.CacheSettings{
			RefreshTokenTTL:    30 * time.Second,
			BlacklistTTLMargin: time.Minute,
		},
	}
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

type testUserRepo struct {
	users     map[string]*domain.User
	emails    map[string]string
	saved     []domain.User
	attempts  []domain.LoginAttempt
	getErr    error
	saveErr   error
	updateErr error
}

func newTestUserRepo(users ...*domain.User) *testUserRepo {
	repo := &testUserRepo{
		users:  make(map[string]*domain.User),
		emails: make(map[string]string),
	}
	for _, user := range users {
		stored := *user
		repo.users[user.ID] = &stored
		repo.emails[domain.NormalizeEmail(user.Email)] = user.ID
	}
	return repo
}

func (r *testUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	id, ok := r.emails[domain.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *r.users[id]
	return &user, nil
}

func (r *testUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	stored, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *stored
	return &user, nil
}

func (r *testUserRepo) Save(ctx context.Context, user domain.User) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, user)
	stored := user
	r.users[user.ID] = &stored
	return nil
}

func (r *testUserRepo) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = changedAt
	return nil
}

func (r *testUserRepo) RecordLoginAttempt(ctx context.Context, attempt domain.LoginAttempt) error {
	r.attempts = append(r.attempts, attempt)
	return nil
}

type testRoleRepo struct {
	roles map[string][]domain.Role
	err   error
}

func newTestRoleRepo() *testRoleRepo {
	return &testRoleRepo{roles: make(map[string][]domain.Role)}
}

func (r *testRoleRepo) RolesForUser(ctx context.Context, userID string) ([]domain.Role, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.roles[userID], nil
}

type testRefreshTokenRepo struct {
	byHash       map[string]*domain.RefreshToken
	created      []domain.RefreshToken
	createErr    error
	getErr       error
	markUsedOK   bool
	markUsedErr  error
	markedUsed   []string
	revoked      map[string]string
	revokeFound  bool
	revokeErr    error
	revokedAll   map[string]string
	revokeAllN   int
	revokeAllErr error
}

func newTestRefreshTokenRepo(tokens ...*domain.RefreshToken) *testRefreshTokenRepo {
	repo := &testRefreshTokenRepo{
		byHash:      make(map[string]*domain.RefreshToken),
		revoked:     make(map[string]string),
		revokedAll:  make(map[string]string),
		markUsedOK:  true,
		revokeFound: true,
	}
	for _, token := range tokens {
		stored := *token
		repo.byHash[token.TokenHash] = &stored
	}
	return repo
}

func (r *testRefreshTokenRepo) Create(ctx context.Context, token domain.RefreshToken) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, token)
	stored := token
	r.byHash[token.TokenHash] = &stored
	return nil
}

func (r *testRefreshTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	stored, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	token := *stored
	return &token, nil
}

func (r *testRefreshTokenRepo) MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	if r.markUsedErr != nil {
		return false, r.markUsedErr
	}
	r.markedUsed = append(r.markedUsed, id)
	return r.markUsedOK, nil
}

func (r *testRefreshTokenRepo) Revoke(ctx context.Context, hash string, reason string) (bool, error) {
	if r.revokeErr != nil {
		return false, r.revokeErr
	}
	r.revoked[hash] = reason
	return r.revokeFound, nil
}

func (r *testRefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID string, reason string) (int, error) {
	if r.revokeAllErr != nil {
		return 0, r.revokeAllErr
	}
	r.revokedAll[userID] = reason
	return r.revokeAllN, nil
}

func (r *testRefreshTokenRepo) ListActiveForUser(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	return nil, errors.New("unexpected call")
}

func (r *testRefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return 0, errors.New("unexpected call")
}

type testResetTokenRepo struct {
	byHash          map[string]*domain.PasswordResetToken
	created         []domain.PasswordResetToken
	createErr       error
	getErr          error
	consumedTokenID string
	consumedUserID  string
	consumedHash    string
	consumeErr      error
}

func newTestResetTokenRepo(tokens ...*domain.PasswordResetToken) *testResetTokenRepo {
	repo := &testResetTokenRepo{byHash: make(map[string]*domain.PasswordResetToken)}
	for _, token := range tokens {
		stored := *token
		repo.byHash[token.TokenHash] = &stored
	}
	return repo
}

func (r *testResetTokenRepo) Create(ctx context.Context, token domain.PasswordResetToken) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, token)
	stored := token
	r.byHash[token.TokenHash] = &stored
	return nil
}

func (r *testResetTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	stored, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	token := *stored
	return &token, nil
}

func (r *testResetTokenRepo) ConsumeAndSetPassword(ctx context.Context, tokenID, userID, passwordHash string, at time.Time) error {
	if r.consumeErr != nil {
		return r.consumeErr
	}
	r.consumedTokenID = tokenID
	r.consumedUserID = userID
	r.consumedHash = passwordHash
	return nil
}

func (r *testResetTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return 0, errors.New("unexpected call")
}

type testBlacklistStore struct {
	entries    map[string]domain.BlacklistedToken
	checkCalls int
	checkErr   error
	addErr     error
	sweeps     map[string]string
	sweepCount int
	sweepErr   error
	cleaned    int
	cleanupErr error
}

func newTestBlacklistStore() *testBlacklistStore {
	return &testBlacklistStore{
		entries: make(map[string]domain.BlacklistedToken),
		sweeps:  make(map[string]string),
	}
}

func (r *testBlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	r.checkCalls++
	if r.checkErr != nil {
		return false, r.checkErr
	}
	_, ok := r.entries[jti]
	return ok, nil
}

func (r *testBlacklistStore) Add(ctx context.Context, token domain.BlacklistedToken) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.entries[token.JTI] = token
	return nil
}

func (r *testBlacklistStore) AddAllForUser(ctx context.Context, userID, reason string) (int, error) {
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	r.sweeps[userID] = reason
	return r.sweepCount, nil
}

func (r *testBlacklistStore) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	if r.cleanupErr != nil {
		return 0, r.cleanupErr
	}
	return r.cleaned, nil
}

type testBlacklistCache struct {
	hits    map[string]string
	marked  map[string]string
	ttls    map[string]time.Duration
	err     error
	markErr error
}

func newTestBlacklistCache() *testBlacklistCache {
	return &testBlacklistCache{
		hits:   make(map[string]string),
		marked: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (r *testBlacklistCache) MarkBlacklisted(ctx context.Context, jti, reason string, ttl time.Duration) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.marked[jti] = reason
	r.ttls[jti] = ttl
	return nil
}

func (r *testBlacklistCache) IsBlacklisted(ctx context.Context, jti string) (bool, string, error) {
	if r.err != nil {
		return false, "", r.err
	}
	reason, ok := r.hits[jti]
	return ok, reason, nil
}

type testRateLimitStore struct {
	attempts  map[string][]time.Time
	trimErr   error
	countErr  error
	recordErr error
	oldestErr error
}

func newTestRateLimitStore() *testRateLimitStore {
	return &testRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (r *testRateLimitStore) within(identifier string, window time.Duration, reference time.Time) []time.Time {
	threshold := reference.Add(-window)
	result := make([]time.Time, 0)
	for _, at := range r.attempts[identifier] {
		if at.After(threshold) {
			result = append(result, at)
		}
	}
	return result
}

func (r *testRateLimitStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if r.trimErr != nil {
		return r.trimErr
	}
	r.attempts[identifier] = r.within(identifier, window, reference)
	return nil
}

func (r *testRateLimitStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return len(r.within(identifier, window, reference)), nil
}

func (r *testRateLimitStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	r.attempts[identifier] = append(r.attempts[identifier], at)
	return nil
}

func (r *testRateLimitStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if r.oldestErr != nil {
		return time.Time{}, false, r.oldestErr
	}
	inWindow := r.within(identifier, window, reference)
	if len(inWindow) == 0 {
		return time.Time{}, false, nil
	}
	oldest := inWindow[0]
	for _, at := range inWindow[1:] {
		if at.Before(oldest) {
			oldest = at
		}
	}
	return oldest, true, nil
}

type testEventSink struct {
	loginSucceeded  []domain.LoginSucceededEvent
	loginFailed     []domain.LoginFailedEvent
	accountLocked   []domain.AccountLockedEvent
	tokenRefreshed  []domain.TokenRefreshedEvent
	sessionRevoked  []domain.SessionRevokedEvent
	passwordChanged []domain.PasswordChangedEvent
	resetRequested  []domain.PasswordResetRequestedEvent
	resetCompleted  []domain.PasswordResetCompletedEvent
	err             error
}

func newTestEventSink() *testEventSink {
	return &testEventSink{}
}

func (s *testEventSink) PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error {
	if s.err != nil {
		return s.err
	}
	s.loginSucceeded = append(s.loginSucceeded, event)
	return nil
}

func (s *testEventSink) PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.loginFailed = append(s.loginFailed, event)
	return nil
}

func (s *testEventSink) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.accountLocked = append(s.accountLocked, event)
	return nil
}

func (s *testEventSink) PublishTokenRefreshed(ctx context.Context, event domain.TokenRefreshedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.tokenRefreshed = append(s.tokenRefreshed, event)
	return nil
}

func (s *testEventSink) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.sessionRevoked = append(s.sessionRevoked, event)
	return nil
}

func (s *testEventSink) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.passwordChanged = append(s.passwordChanged, event)
	return nil
}

func (s *testEventSink) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.resetRequested = append(s.resetRequested, event)
	return nil
}

func (s *testEventSink) PublishPasswordResetCompleted(ctx context.Context, event domain.PasswordResetCompletedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.resetCompleted = append(s.resetCompleted, event)
	return nil
}

func newTestBlacklistService(t *testing.T, store *testBlacklistStore, cache *testBlacklistCache, mode domain.DegradationPolicyMode) *BlacklistService {
	t.Helper()

	// A typed nil stub must not reach the interface field.
	var cachePort port.BlacklistCache
	if cache != nil {
		cachePort = cache
	}

	service, err := NewBlacklistService(store, cachePort, domain.NewDegradationPolicy(mode), 30*time.Minute, nil)
	if err != nil {
		t.Fatalf("create blacklist service: %v", err)
	}
	return service.WithClock(testClock)
}

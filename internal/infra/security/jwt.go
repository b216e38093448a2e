package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

// ErrInvalidToken indicates signature, algorithm, issuer, or audience validation failed.
var ErrInvalidToken = errors.New("jwt: invalid token")

// ErrTokenExpired indicates the token is past its expiry claim.
var ErrTokenExpired = errors.New("jwt: token expired")

const defaultAccessTokenTTL = 15 * time.Minute

// SignerSettings configures token issuance and validation.
type SignerSettings struct {
	Issuer         string
	Audience       []string
	KID            string
	AccessTokenTTL time.Duration
}

// JWTManager is the canonical access-token authority: it signs with the
// active RSA key, validates against the registered key set (current plus
// recently retired), and publishes the matching JWKS.
type JWTManager struct {
	KeyProvider KeyProvider
	settings    SignerSettings
	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
	now         func() time.Time
}

// NewJWTManager constructs a JWTManager for the supplied key provider and settings.
func NewJWTManager(provider KeyProvider, settings SignerSettings) (*JWTManager, error) {
	if strings.TrimSpace(settings.Issuer) == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}
	if strings.TrimSpace(settings.KID) == "" {
		return nil, ErrKeyIDMissing
	}
	if settings.AccessTokenTTL <= 0 {
		settings.AccessTokenTTL = defaultAccessTokenTTL
	}

	mgr := &JWTManager{
		KeyProvider: provider,
		settings:    settings,
		publicKeys:  make(map[string]*rsa.PublicKey),
	}
	mgr.now = func() time.Time { return time.Now().UTC() }

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(kid, key)
		}
	}

	return mgr, nil
}

// WithClock overrides the manager clock for deterministic tests.
func (m *JWTManager) WithClock(clock func() time.Time) *JWTManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Settings returns the active signer settings.
func (m *JWTManager) Settings() SignerSettings {
	return m.settings
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// UnregisterPublicKey removes the supplied kid from the JWKS catalogue.
func (m *JWTManager) UnregisterPublicKey(kid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.publicKeys, strings.TrimSpace(kid))
}

// GetSigningKey retrieves the active signing key from the provider.
func (m *JWTManager) GetSigningKey() (*rsa.PrivateKey, error) {
	if m.KeyProvider == nil {
		return nil, fmt.Errorf("jwt: key provider not configured")
	}
	return m.KeyProvider.GetSigningKey()
}

// GetVerificationKey retrieves a public key by kid, consulting the provider's
// retired-key list when the kid is not yet registered.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// JWKS produces the JSON Web Key Set for registered keys, retired keys included.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.publicKeys) == 0 {
		return json.Marshal(struct {
			Keys []any `json:"keys"`
		}{Keys: []any{}})
	}

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, buildJWK(kid, key))
	}

	payload := map[string]any{"keys": keys}
	return json.Marshal(payload)
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// AccessTokenClaims carries identity, tenancy, and RBAC context inside the
// signed token. Permissions are the permission claim values deduplicated
// across the user's roles.
type AccessTokenClaims struct {
	UserID      string   `json:"uid"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"name,omitempty"`
	TenantID    string   `json:"tid"`
	BranchID    string   `json:"bid,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenSubject describes the identity a token is minted for.
type AccessTokenSubject struct {
	UserID      string
	Email       string
	DisplayName string
	TenantID    string
	BranchID    string
	Roles       []string
	Permissions []string
}

// IssueAccessToken mints and signs an access token for the subject. The
// returned claims expose the generated jti and expiry to the caller.
func (m *JWTManager) IssueAccessToken(subject AccessTokenSubject) (string, *AccessTokenClaims, error) {
	userID := strings.TrimSpace(subject.UserID)
	if userID == "" {
		return "", nil, fmt.Errorf("jwt: user id is required")
	}
	tenantID := strings.TrimSpace(subject.TenantID)
	if tenantID == "" {
		return "", nil, fmt.Errorf("jwt: tenant id is required")
	}

	now := m.now()
	claims := &AccessTokenClaims{
		UserID:      userID,
		Email:       strings.TrimSpace(subject.Email),
		DisplayName: strings.TrimSpace(subject.DisplayName),
		TenantID:    tenantID,
		BranchID:    strings.TrimSpace(subject.BranchID),
		Roles:       normalizeClaimStrings(subject.Roles),
		Permissions: normalizeClaimStrings(subject.Permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.settings.Issuer,
			Audience:  jwt.ClaimStrings(m.settings.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.settings.AccessTokenTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := m.SignAccessToken(m.settings.KID, claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// SignAccessToken signs the provided claims using the active signing key and kid.
func (m *JWTManager) SignAccessToken(kid string, claims *AccessTokenClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("jwt: access token claims required")
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return "", ErrKeyIDMissing
	}

	signingKey, err := m.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// ParseAccessToken fully validates the token: signature, issuer, audience, and expiry.
func (m *JWTManager) ParseAccessToken(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuer(m.settings.Issuer),
	}
	for _, audience := range m.settings.Audience {
		options = append(options, jwt.WithAudience(audience))
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, m.verificationKeyFunc, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ParseExpiredToken validates signature, issuer, and audience while skipping
// the expiry check. It exists solely so the refresh flow can recover the
// subject of an already-expired access token.
func (m *JWTManager) ParseExpiredToken(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, m.verificationKeyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidToken
	}
	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// Claims validation was skipped wholesale; issuer and audience still count.
	if claims.Issuer != m.settings.Issuer {
		return nil, ErrInvalidToken
	}
	if !audienceMatches(claims.Audience, m.settings.Audience) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *JWTManager) verificationKeyFunc(t *jwt.Token) (interface{}, error) {
	method, ok := t.Method.(*jwt.SigningMethodRSA)
	if !ok || method == nil {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}

	kid, _ := t.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, fmt.Errorf("kid header not found")
	}

	return m.GetVerificationKey(kid)
}

func audienceMatches(tokenAudience jwt.ClaimStrings, expected []string) bool {
	if len(expected) == 0 {
		return true
	}
	for _, want := range expected {
		for _, have := range tokenAudience {
			if have == want {
				return true
			}
		}
	}
	return false
}

func normalizeClaimStrings(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, value := range input {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

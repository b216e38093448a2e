package domain

import "time"

// RefreshToken represents a persisted refresh token (stored as a hash) with
// single-active-chain rotation support. Each token is linked to the jti of
// the access token minted alongside it so revocation can cascade into the
// blacklist.
type RefreshToken struct {
	ID             string
	UserID         string
	TenantID       string
	TokenHash      string
	AccessTokenJTI string
	IP             *string
	UserAgent      *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UsedAt         *time.Time
	RevokedAt      *time.Time
	Metadata       map[string]any
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsUsed reports whether the token was already exchanged.
func (t RefreshToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for rotation.
// Expiry wins over the used/revoked flags: a token past ExpiresAt is never
// active regardless of state.
func (t RefreshToken) IsActive(at time.Time) bool {
	if t.IsRevoked() || t.IsUsed() {
		return false
	}
	return !t.IsExpired(at)
}

// MarkUsed records the moment the refresh token was exchanged.
// Returns true if the value changed (i.e. the token was previously unused).
func (t *RefreshToken) MarkUsed(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	usedAt := at
	t.UsedAt = &usedAt
	return true
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	revokedAt := at
	t.RevokedAt = &revokedAt
	return true
}

// BlacklistedToken models a revoked access-token identifier. ExpiresAt mirrors
// the natural expiry of the underlying access token so retention can discard
// rows once they could never have mattered again.
type BlacklistedToken struct {
	JTI           string
	UserID        string
	TenantID      string
	Reason        string
	BlacklistedAt time.Time
	ExpiresAt     time.Time
}

// IsExpired reports whether the blacklist entry has outlived the token it denies.
func (b BlacklistedToken) IsExpired(at time.Time) bool {
	return !b.ExpiresAt.After(at)
}

// PasswordResetToken represents a single-use password reset token hash valid
// for a bounded window. Consumption deletes the row in the same transaction
// as the password update, so presence implies the token is still redeemable
// (subject to expiry).
type PasswordResetToken struct {
	ID        string
	UserID    string
	TenantID  string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the password reset token can still be redeemed.
func (t PasswordResetToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

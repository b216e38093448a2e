package domain

import (
	"strings"
	"time"
)

// User mirrors the authentication facet of the users table. Every record is
// owned by a tenant; branch assignment is optional.
type User struct {
	ID               string
	TenantID         string
	BranchID         *string
	Email            string
	DisplayName      string
	PasswordHash     string
	FailedLoginCount int
	LockoutUntil     *time.Time
	IsActive         bool
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLockedOut reports whether the lockout window is still in effect at the supplied instant.
func (u User) IsLockedOut(at time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(at)
}

// RegisterFailedLogin increments the failure counter and arms the lockout
// window once the counter reaches the threshold.
// Returns true when this attempt triggered the lockout.
func (u *User) RegisterFailedLogin(at time.Time, threshold int, window time.Duration) bool {
	u.FailedLoginCount++
	if threshold > 0 && u.FailedLoginCount >= threshold {
		until := at.Add(window)
		u.LockoutUntil = &until
		return true
	}
	return false
}

// RegisterSuccessfulLogin zeroes failure tracking, clears any lockout, and
// stamps the login time.
func (u *User) RegisterSuccessfulLogin(at time.Time) {
	u.FailedLoginCount = 0
	u.LockoutUntil = nil
	loginAt := at
	u.LastLoginAt = &loginAt
}

// Tenant identifies a pharmacy or clinic organisation owning users and tokens.
type Tenant struct {
	ID       string
	Name     string
	IsActive bool
}

// Branch identifies a physical location within a tenant. Branches are
// referenced by id only; the auth core never traverses tenant object graphs.
type Branch struct {
	ID       string
	TenantID string
	Name     string
}

// NormalizeEmail lowercases and trims an email for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginAttempt records authentication attempts for throttling and audit.
type LoginAttempt struct {
	ID        string
	UserID    *string
	TenantID  *string
	Email     string
	Succeeded bool
	IP        *string
	UserAgent *string
	CreatedAt time.Time
}

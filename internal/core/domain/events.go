package domain

import "time"

// LoginSucceededEvent represents the payload for auth.login.succeeded messages.
type LoginSucceededEvent struct {
	EventID  string
	UserID   string
	TenantID string
	Email    string
	LoginAt  time.Time
	IP       *string
	Metadata map[string]any
}

// LoginFailedEvent represents the payload for auth.login.failed messages.
type LoginFailedEvent struct {
	EventID        string
	UserID         *string
	TenantID       *string
	Email          string
	FailedAt       time.Time
	FailedAttempts int
	LockoutArmed   bool
	IP             *string
	Metadata       map[string]any
}

// AccountLockedEvent represents the payload for auth.account.locked messages.
type AccountLockedEvent struct {
	EventID      string
	UserID       string
	TenantID     string
	LockedAt     time.Time
	LockoutUntil time.Time
	Metadata     map[string]any
}

// TokenRefreshedEvent represents the payload for auth.token.refreshed messages.
type TokenRefreshedEvent struct {
	EventID     string
	UserID      string
	TenantID    string
	RotatedFrom string
	OldJTI      string
	NewJTI      string
	RefreshedAt time.Time
	Metadata    map[string]any
}

// SessionRevokedEvent represents the payload for auth.session.revoked messages.
type SessionRevokedEvent struct {
	EventID       string
	UserID        string
	TenantID      string
	Reason        string
	TokensRevoked int
	RevokedAt     time.Time
	Metadata      map[string]any
}

// PasswordChangedEvent represents the payload for auth.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	UserID    string
	TenantID  string
	ChangedAt time.Time
	ChangedBy string
	Metadata  map[string]any
}

// PasswordResetRequestedEvent represents the payload for auth.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID     string
	UserID      string
	TenantID    string
	RequestedAt time.Time
	ExpiresAt   time.Time
	MaskedEmail string
	IP          *string
	Metadata    map[string]any
}

// PasswordResetCompletedEvent represents the payload for auth.password.reset_completed messages.
type PasswordResetCompletedEvent struct {
	EventID     string
	UserID      string
	TenantID    string
	CompletedAt time.Time
	Metadata    map[string]any
}

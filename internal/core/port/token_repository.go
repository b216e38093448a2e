package port

import (
	"context"
	"time"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
)

// RefreshTokenRepository manages refresh token records with single-active-chain
// rotation semantics. Create revokes every previously active token for the
// owning user, blacklisting their access-token jtis, before the new row is
// inserted; the whole step runs as one transaction.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// MarkUsed flips the used flag only when the row is still active. The
	// returned bool reports whether this caller won the transition.
	MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)
	// Revoke marks the token revoked and blacklists its jti. Returns false
	// when no token matches the hash; revoking an already-revoked token is a
	// no-op that still reports true.
	Revoke(ctx context.Context, hash string, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, reason string) (int, error)
	ListActiveForUser(ctx context.Context, userID string) ([]domain.RefreshToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// PasswordResetTokenRepository manages single-use password reset tokens.
type PasswordResetTokenRepository interface {
	Create(ctx context.Context, token domain.PasswordResetToken) error
	GetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error)
	// ConsumeAndSetPassword deletes the reset token and updates the user's
	// password hash in one transaction.
	ConsumeAndSetPassword(ctx context.Context, tokenID, userID, passwordHash string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

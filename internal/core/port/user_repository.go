package port

import (
	"context"
	"time"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
)

// UserRepository exposes persistence behavior for the auth facet of users.
// The authentication service is the sole writer of the lockout fields.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Save(ctx context.Context, user domain.User) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	RecordLoginAttempt(ctx context.Context, attempt domain.LoginAttempt) error
}

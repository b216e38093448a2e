package port

import (
	"context"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
)

// RoleRepository resolves role assignments together with their permission claims.
type RoleRepository interface {
	RolesForUser(ctx context.Context, userID string) ([]domain.Role, error)
}

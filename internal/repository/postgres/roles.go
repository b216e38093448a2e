package postgres

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
)

// RoleRepository resolves role assignments for token issuance. Role
// administration lives in the platform admin service; this side only reads.
type RoleRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a PostgreSQL-backed role repository.
func NewRoleRepository(exec pgExecutor) *RoleRepository {
	return &RoleRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// RolesForUser returns the user's roles with their permission claims. Roles
// without claims still appear, with an empty claim list.
func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]domain.Role, error) {
	stmt, args, err := r.builder.Select(
		"r.id",
		"r.tenant_id",
		"r.name",
		"c.claim_type",
		"c.claim_value",
	).
		From("auth.roles r").
		Join("auth.user_roles ur ON ur.role_id = r.id").
		LeftJoin("auth.role_claims c ON c.role_id = r.id").
		Where(squirrel.Eq{"ur.user_id": userID}).
		OrderBy("r.name ASC", "c.claim_type ASC", "c.claim_value ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build roles by user sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles by user: %w", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0)
	index := make(map[string]int)

	for rows.Next() {
		var (
			roleID     string
			tenantID   string
			name       string
			claimType  sql.NullString
			claimValue sql.NullString
		)
		if err := rows.Scan(&roleID, &tenantID, &name, &claimType, &claimValue); err != nil {
			return nil, fmt.Errorf("scan role by user: %w", err)
		}

		position, seen := index[roleID]
		if !seen {
			roles = append(roles, domain.Role{
				ID:       roleID,
				TenantID: tenantID,
				Name:     name,
				Claims:   []domain.RoleClaim{},
			})
			position = len(roles) - 1
			index[roleID] = position
		}

		if claimType.Valid && claimValue.Valid {
			roles[position].Claims = append(roles[position].Claims, domain.RoleClaim{
				Type:  claimType.String,
				Value: claimValue.String,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles by user: %w", err)
	}

	return roles, nil
}

var _ port.RoleRepository = (*RoleRepository)(nil)

package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Users         *UserRepository
	Roles         *RoleRepository
	RefreshTokens *RefreshTokenRepository
	ResetTokens   *PasswordResetTokenRepository
	Blacklist     *BlacklistRepository
}

// RepositoriesConfig carries the token lifetimes the repositories need to
// size blacklist retention and the refresh token read cache.
type RepositoriesConfig struct {
	AccessTokenTTL     time.Duration
	BlacklistTTLMargin time.Duration
	RefreshCacheTTL    time.Duration
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool, cfg RepositoriesConfig) *Repositories {
	return &Repositories{
		Users: NewUserRepository(pool),
		Roles: NewRoleRepository(pool),
		RefreshTokens: NewRefreshTokenRepository(pool, RefreshTokenRepositoryConfig{
			AccessTokenTTL:     cfg.AccessTokenTTL,
			BlacklistTTLMargin: cfg.BlacklistTTLMargin,
			CacheTTL:           cfg.RefreshCacheTTL,
		}),
		ResetTokens: NewPasswordResetTokenRepository(pool),
		Blacklist:   NewBlacklistRepository(pool, cfg.AccessTokenTTL, cfg.BlacklistTTLMargin),
	}
}

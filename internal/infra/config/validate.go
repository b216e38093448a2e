package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a config value the service cannot start with.
// It is fatal at startup, never surfaced per-request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

const minPasswordIterations = 10_000

// Validate checks the settings the service cannot run without. Defaults cover
// everything else.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return &ConfigurationError{Field: "jwt.issuer", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.JWT.PrivateKeyPath) == "" {
		return &ConfigurationError{Field: "jwt.private_key_path", Reason: "must not be empty"}
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return &ConfigurationError{Field: "jwt.access_token_ttl", Reason: "must be positive"}
	}
	if c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL {
		return &ConfigurationError{Field: "jwt.refresh_token_ttl", Reason: "must exceed the access token TTL"}
	}
	if c.JWT.ResetTokenTTL <= 0 {
		return &ConfigurationError{Field: "jwt.reset_token_ttl", Reason: "must be positive"}
	}

	if c.Password.Iterations < minPasswordIterations {
		return &ConfigurationError{
			Field:  "password.iterations",
			Reason: fmt.Sprintf("must be at least %d", minPasswordIterations),
		}
	}
	if c.Password.MinStrengthScore < 0 || c.Password.MinStrengthScore > 4 {
		return &ConfigurationError{Field: "password.min_strength_score", Reason: "must be between 0 and 4"}
	}

	if c.Lockout.MaxFailedAttempts <= 0 {
		return &ConfigurationError{Field: "lockout.max_failed_attempts", Reason: "must be positive"}
	}
	if c.Lockout.Window <= 0 {
		return &ConfigurationError{Field: "lockout.window", Reason: "must be positive"}
	}

	if strings.TrimSpace(c.Postgres.Host) == "" {
		return &ConfigurationError{Field: "postgres.host", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Postgres.Database) == "" {
		return &ConfigurationError{Field: "postgres.database", Reason: "must not be empty"}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return &ConfigurationError{Field: "kafka.brokers", Reason: "must list at least one broker when kafka is enabled"}
	}

	switch strings.ToLower(strings.TrimSpace(c.Blacklist.DegradationPolicy)) {
	case "lenient", "strict":
	default:
		return &ConfigurationError{Field: "blacklist.degradation_policy", Reason: "must be lenient or strict"}
	}

	return nil
}

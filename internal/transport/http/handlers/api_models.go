package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
)

// ErrorResponse is the failure envelope shared by every endpoint. Message is
// intentionally generic for credential failures so responses never reveal
// which part of the input was wrong.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with the trace ID from context.
func NewErrorResponse(c *gin.Context, message string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Success: false,
		Message: message,
		TraceID: traceIDStr,
	}
}

// StatusResponse is the minimal success envelope for endpoints that return no payload.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserSummary is the user view embedded in login and refresh responses.
type UserSummary struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	BranchID    *string    `json:"branch_id,omitempty"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned for a successful login.
type LoginResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         UserSummary `json:"user"`
}

// RefreshRequest carries the opaque refresh token to rotate.
type RefreshRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshResponse contains the rotated token pair. User is populated only
// when the caller asks for it via the include_user query parameter.
type RefreshResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	User         *UserSummary `json:"user,omitempty"`
}

// RevokeSessionsResponse reports how many refresh tokens a sign-out-everywhere
// call revoked.
type RevokeSessionsResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RevokedCount int    `json:"revoked_count"`
}

// LogoutRequest optionally names the refresh chain to revoke alongside the
// access token. Without it only the presented access token is blacklisted.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordChangeRequest captures an authenticated password change.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordForgotRequest starts the reset flow for an account email.
type PasswordForgotRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordForgotResponse acknowledges the reset request. In production the
// body is identical whether or not the account exists; ExpiresAt and DevToken
// are populated only in development mode, where the token short-circuits the
// notification channel.
type PasswordForgotResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DevToken  *string    `json:"dev_token,omitempty"`
}

// PasswordResetRequest completes the reset flow with the emailed token.
type PasswordResetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// newUserSummary converts a domain user plus resolved role data to the API view.
func newUserSummary(user domain.User, roles, permissions []string) UserSummary {
	summary := UserSummary{
		ID:          user.ID,
		TenantID:    user.TenantID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsActive:    user.IsActive,
	}

	if user.BranchID != nil && *user.BranchID != "" {
		branchID := *user.BranchID
		summary.BranchID = &branchID
	}

	if user.LastLoginAt != nil {
		lastLogin := *user.LastLoginAt
		summary.LastLoginAt = &lastLogin
	}

	if len(roles) > 0 {
		summary.Roles = append([]string(nil), roles...)
	}
	if len(permissions) > 0 {
		summary.Permissions = append([]string(nil), permissions...)
	}

	return summary
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/telemetry"
	"github.com/medisphere/pharmacy-platform-auth/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Message: message,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header, fully verifies the access
// token, and consults the jti blacklist. A blacklisted token is rejected
// exactly like one with a broken signature.
func RequireAuth(tokens *security.JWTManager, blacklist *usecase.BlacklistService, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				newErrorResponse(c, "authentication temporarily unavailable"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		claims, err := tokens.ParseAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			}
			return
		}

		if blacklist != nil {
			if err := blacklist.CheckToken(c.Request.Context(), claims.ID); err != nil {
				switch {
				case errors.Is(err, usecase.ErrTokenBlacklisted):
					observeBlacklistCheck(metrics, "hit")
					c.AbortWithStatusJSON(http.StatusUnauthorized,
						newErrorResponse(c, "token revoked"))
				case errors.Is(err, usecase.ErrAuthUnavailable):
					observeBlacklistCheck(metrics, "degraded")
					c.AbortWithStatusJSON(http.StatusServiceUnavailable,
						newErrorResponse(c, "authentication temporarily unavailable"))
				default:
					c.AbortWithStatusJSON(http.StatusInternalServerError,
						newErrorResponse(c, "authentication failed"))
				}
				return
			}
			observeBlacklistCheck(metrics, "miss")
		}

		// Store identity in the request context
		c.Set(UserIDKey, claims.UserID)
		c.Set(TenantIDKey, claims.TenantID)
		c.Set("claims", claims)
		c.Set("roles", claims.Roles)
		c.Set("permissions", claims.Permissions)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.UserID
			reqCtx.TenantID = claims.TenantID
		}

		c.Next()
	}
}

func observeBlacklistCheck(metrics *telemetry.Metrics, result string) {
	if metrics == nil || metrics.BlacklistChecks == nil {
		return
	}
	metrics.BlacklistChecks.WithLabelValues(result).Inc()
}

// RequireRole checks if the authenticated user has any of the specified roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rolesVal, exists := c.Get("roles")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		userRoles, ok := rolesVal.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "invalid roles format"))
			return
		}

		if !containsAny(userRoles, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

// RequirePermission checks if the authenticated user carries any of the
// specified permission claims.
func RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		permsVal, exists := c.Get("permissions")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		userPerms, ok := permsVal.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "invalid permissions format"))
			return
		}

		if !containsAny(userPerms, permissions) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

// containsAny reports whether held covers at least one of the required values
func containsAny(held []string, required []string) bool {
	heldMap := make(map[string]bool, len(held))
	for _, value := range held {
		heldMap[value] = true
	}

	for _, want := range required {
		if heldMap[want] {
			return true
		}
	}
	return false
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}

// GetAuthenticatedTenantID retrieves the tenant ID from context (helper for handlers)
func GetAuthenticatedTenantID(c *gin.Context) (string, bool) {
	tenantID, exists := c.Get(TenantIDKey)
	if !exists {
		return "", false
	}

	if id, ok := tenantID.(string); ok {
		return id, true
	}

	return "", false
}

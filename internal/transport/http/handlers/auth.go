package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/telemetry"
	"github.com/medisphere/pharmacy-platform-auth/internal/usecase"
)

// AuthHandler exposes the login, refresh, and logout endpoints.
type AuthHandler struct {
	auth    *usecase.AuthService
	metrics *telemetry.Metrics
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithAuthMetrics injects the collectors used to count login outcomes and
// issued tokens.
func WithAuthMetrics(metrics *telemetry.Metrics) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.metrics = metrics
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{auth: auth}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds authentication routes. Logout operates on a verified
// bearer token, so the caller supplies the auth middleware guarding it.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)

	if requireAuth != nil {
		r.POST("/logout", requireAuth, h.logout)
		r.POST("/logout/all", requireAuth, h.logoutAll)
	} else {
		r.POST("/logout", h.logout)
		r.POST("/logout/all", h.logoutAll)
	}
}

// Login godoc
// @Summary Authenticate a user with credentials
// @Description Validates the email and password for the tenant member, returning access and refresh tokens on success.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse "Successfully authenticated"
// @Failure 400 {object} ErrorResponse "Invalid request payload"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 423 {object} ErrorResponse "Account temporarily locked"
// @Failure 429 {object} ProblemDetails "Rate limit exceeded"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Failure 503 {object} ErrorResponse "Service temporarily unavailable"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication service unavailable"))
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	input := usecase.LoginInput{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		IP:        optionalString(c.ClientIP()),
		UserAgent: optionalString(c.Request.UserAgent()),
	}

	result, err := h.auth.Login(c.Request.Context(), input)
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	h.recordLoginOutcome("success")
	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success:      true,
		Message:      "login successful",
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    computeExpiresIn(result.AccessTokenExpiresAt),
		User:         newUserSummary(result.User, result.Roles, result.Permissions),
	})
}

// Refresh godoc
// @Summary Refresh an access token
// @Description Exchanges the expired access token and its refresh token for a new pair. Each refresh token can be exchanged once.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Param include_user query bool false "Include the user profile in the response"
// @Success 200 {object} RefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication service unavailable"))
		return
	}

	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "access_token and refresh_token are required"))
		return
	}

	input := usecase.RefreshInput{
		AccessToken:  strings.TrimSpace(req.AccessToken),
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		IP:           optionalString(c.ClientIP()),
		UserAgent:    optionalString(c.Request.UserAgent()),
	}

	result, err := h.auth.Refresh(c.Request.Context(), input)
	if err != nil {
		h.respondRefreshError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
		h.metrics.TokenRotations.Inc()
	}

	response := RefreshResponse{
		Success:      true,
		Message:      "token refreshed",
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    computeExpiresIn(result.AccessTokenExpiresAt),
	}

	rawInclude := c.DefaultQuery("include_user", "false")
	if strings.EqualFold(rawInclude, "true") || rawInclude == "1" {
		summary := newUserSummary(result.User, result.Roles, result.Permissions)
		response.User = &summary
	}

	c.JSON(http.StatusOK, response)
}

// Logout godoc
// @Summary Logout the current session
// @Description Blacklists the presented access token and revokes the refresh chain named in the optional body.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LogoutRequest false "Logout request"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication service unavailable"))
		return
	}

	claims := getAccessTokenClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req LogoutRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
			return
		}
	}

	input := usecase.LogoutInput{
		UserID:         claims.UserID,
		TenantID:       claims.TenantID,
		AccessTokenJTI: claims.ID,
		RefreshToken:   strings.TrimSpace(req.RefreshToken),
	}
	if claims.ExpiresAt != nil {
		input.AccessTokenExpiresAt = claims.ExpiresAt.Time
	}

	if err := h.auth.Logout(c.Request.Context(), input); err != nil {
		if errors.Is(err, usecase.ErrAuthUnavailable) {
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to logout"))
		return
	}

	c.Status(http.StatusNoContent)
}

// LogoutAll godoc
// @Summary Sign out everywhere
// @Description Revokes every active refresh token of the authenticated user and blacklists the access tokens issued alongside them.
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} RevokeSessionsResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/logout/all [post]
func (h *AuthHandler) logoutAll(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication service unavailable"))
		return
	}

	claims := getAccessTokenClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	count, err := h.auth.RevokeAllSessions(c.Request.Context(), claims.UserID, claims.TenantID, "logout_all")
	if err != nil {
		if errors.Is(err, usecase.ErrAuthUnavailable) {
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke sessions"))
		return
	}

	c.JSON(http.StatusOK, RevokeSessionsResponse{
		Success:      true,
		Message:      "all sessions revoked",
		RevokedCount: count,
	})
}

func (h *AuthHandler) respondLoginError(c *gin.Context, err error) {
	var rateErr *usecase.RateLimitError
	if errors.As(err, &rateErr) {
		h.recordLoginOutcome("rate_limited")
		respondRateLimited(c, rateErr)
		return
	}

	switch {
	case errors.Is(err, usecase.ErrAccountLocked):
		h.recordLoginOutcome("locked")
		if h.metrics != nil {
			h.metrics.LockoutRejections.Inc()
		}
		c.JSON(http.StatusLocked, NewErrorResponse(c, "account temporarily locked, try again later"))
	case errors.Is(err, usecase.ErrInvalidCredentials),
		errors.Is(err, usecase.ErrUserNotFound),
		errors.Is(err, usecase.ErrUserInactive):
		// Unknown and inactive accounts get the same answer as a wrong
		// password so login responses cannot be used to probe for accounts.
		h.recordLoginOutcome("invalid_credentials")
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrAuthUnavailable):
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
	}
}

func (h *AuthHandler) respondRefreshError(c *gin.Context, err error) {
	var rateErr *usecase.RateLimitError
	if errors.As(err, &rateErr) {
		respondRateLimited(c, rateErr)
		return
	}

	switch {
	case errors.Is(err, usecase.ErrInvalidRefreshToken),
		errors.Is(err, usecase.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid refresh token"))
	case errors.Is(err, usecase.ErrUserInactive):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account inactive"))
	case errors.Is(err, usecase.ErrAuthUnavailable):
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to refresh token"))
	}
}

func (h *AuthHandler) recordLoginOutcome(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
}

func getAccessTokenClaims(c *gin.Context) *security.AccessTokenClaims {
	raw, exists := c.Get("claims")
	if !exists {
		return nil
	}

	claims, ok := raw.(*security.AccessTokenClaims)
	if !ok {
		return nil
	}

	return claims
}

// computeExpiresIn converts the access token expiry into the relative
// expires_in seconds clients expect alongside a Bearer token.
func computeExpiresIn(expiresAt time.Time) int {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

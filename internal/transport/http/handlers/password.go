package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/transport/http/middleware"
	"github.com/medisphere/pharmacy-platform-auth/internal/usecase"
)

// PasswordHandler exposes the password change, forgot, and reset endpoints.
type PasswordHandler struct {
	passwords  *usecase.PasswordService
	dispatcher NotificationDispatcher
	isDev      bool
}

// NewPasswordHandler constructs PasswordHandler. The dispatcher delivers the
// raw reset token to the user; pass nil to drop notifications.
func NewPasswordHandler(passwords *usecase.PasswordService, dispatcher NotificationDispatcher, isDev bool) *PasswordHandler {
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	return &PasswordHandler{
		passwords:  passwords,
		dispatcher: dispatcher,
		isDev:      isDev,
	}
}

// ChangePassword godoc
// @Summary Change the password for the authenticated user
// @Description Verifies the current password and replaces it. Existing sessions stay valid.
// @Tags Password
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param request body PasswordChangeRequest true "Password change request"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/password/change [post]
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	if h.passwords == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password service unavailable"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || strings.TrimSpace(userID) == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid change password payload"))
		return
	}

	input := usecase.ChangePasswordInput{
		UserID:          strings.TrimSpace(userID),
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	}

	if err := h.passwords.ChangePassword(c.Request.Context(), input); err != nil {
		var validationErr *security.PasswordValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, validationErr.Message))
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrSamePassword, Status: http.StatusBadRequest, Message: "new password must differ from the current password"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
			{Err: usecase.ErrUserInactive, Status: http.StatusForbidden, Message: "account inactive"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Message: "password changed successfully",
	})
}

// ForgotPassword godoc
// @Summary Initiate a password reset
// @Description Starts the reset flow for the account email. The response is identical whether or not the account exists.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordForgotRequest true "Password reset initiation"
// @Success 202 {object} PasswordForgotResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/password/forgot [post]
func (h *PasswordHandler) ForgotPassword(c *gin.Context) {
	if h.passwords == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password service unavailable"))
		return
	}

	var req PasswordForgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset request"))
		return
	}

	result, err := h.passwords.ForgotPassword(c.Request.Context(), usecase.ForgotPasswordInput{
		Email: strings.TrimSpace(req.Email),
		IP:    optionalString(c.ClientIP()),
	})
	if err != nil {
		var rateErr *usecase.RateLimitError
		if errors.As(err, &rateErr) {
			respondRateLimited(c, rateErr)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to initiate password reset"))
		return
	}

	// One fixed body for every outcome. Anything that varies with account
	// existence would turn this endpoint into an account probe.
	response := PasswordForgotResponse{
		Success: true,
		Message: "If the account exists, instructions have been sent",
	}

	if result != nil {
		h.dispatchReset(c, strings.TrimSpace(req.Email), result)

		if h.isDev {
			expires := result.ExpiresAt
			response.ExpiresAt = &expires
			if token := strings.TrimSpace(result.Token); token != "" {
				response.DevToken = &token
			}
		}
	}

	c.JSON(http.StatusAccepted, response)
}

// ResetPassword godoc
// @Summary Complete a password reset
// @Description Redeems a reset token and sets the new password. All sessions and refresh chains of the user are revoked.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetRequest true "Password reset completion"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/password/reset [post]
func (h *PasswordHandler) ResetPassword(c *gin.Context) {
	if h.passwords == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password service unavailable"))
		return
	}

	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset password payload"))
		return
	}

	input := usecase.ResetPasswordInput{
		Token:       strings.TrimSpace(req.Token),
		NewPassword: req.NewPassword,
		IP:          optionalString(c.ClientIP()),
	}

	if err := h.passwords.ResetPassword(c.Request.Context(), input); err != nil {
		var validationErr *security.PasswordValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, validationErr.Message))
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidResetToken, Status: http.StatusBadRequest, Message: "invalid or expired reset token"},
			{Err: usecase.ErrUserInactive, Status: http.StatusForbidden, Message: "account inactive"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Message: "password reset successful",
	})
}

func (h *PasswordHandler) dispatchReset(c *gin.Context, email string, result *usecase.ForgotPasswordResult) {
	if h.dispatcher == nil || result == nil {
		return
	}

	_ = h.dispatcher.SendPasswordReset(c.Request.Context(), PasswordResetNotification{
		Email:     email,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

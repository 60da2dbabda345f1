package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
	"wattmate/internal/reqctx"
	"wattmate/internal/services"
	helpers "wattmate/internal/utils/helpres"
)

const forgotPasswordMessage = "If the email is registered, a password reset link has been sent"

type PasswordHandler struct {
	svc *services.PasswordService
}

func NewPasswordHandler(svc *services.PasswordService) *PasswordHandler {
	return &PasswordHandler{svc: svc}
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Description The response is the same whether or not the email is registered.
// @Tags password
// @Accept json
// @Produce json
// @Param input body models.ForgotPasswordRequest true "User email"
// @Success 200 {object} helpers.Response
// @Failure 400 {object} helpers.Response
// @Failure 429 {object} helpers.Response
// @Router /api/auth/forgot-password [post]
func (h *PasswordHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCtx(r.Context())

	var req models.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Warn("ForgotPassword: bad JSON", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateForgot(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		log.Error("ForgotPassword failed", zap.String("email_masked", services.MaskEmail(req.Email)), zap.Error(err))
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, forgotPasswordMessage, nil)
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Description Consumes the token and signs the user out of every device.
// @Tags password
// @Accept json
// @Produce json
// @Param input body models.ResetPasswordRequest true "Token and new password"
// @Success 200 {object} helpers.Response
// @Failure 400 {object} helpers.Response "Invalid or expired token"
// @Router /api/auth/reset-password [post]
func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateReset(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	err := h.svc.ResetPassword(r.Context(), req.Token, req.Password)
	if errors.Is(err, common.ErrTokenInvalid) {
		helpers.Error(w, http.StatusBadRequest, "Reset token is invalid or expired")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Password has been reset. Please sign in again.", nil)
}

// ChangePassword godoc
// @Summary Change password of the signed-in user
// @Description Signs the user out of every device.
// @Tags password
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body models.ChangePasswordRequest true "Current and new password"
// @Success 200 {object} helpers.Response
// @Failure 400 {object} helpers.Response "Current password is incorrect"
// @Router /api/auth/change-password [post]
func (h *PasswordHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := reqctx.GetUserID(r.Context())
	if !ok {
		helpers.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req models.ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateChangePassword(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	err := h.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if errors.Is(err, common.ErrCredentialMismatch) {
		helpers.Error(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Password changed. Please sign in again.", nil)
}

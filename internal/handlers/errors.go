package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	helpers "wattmate/internal/utils/helpres"
)

// writeServiceError maps service sentinels to statuses. Anything unrecognised is a 500
// with a generic message; the detail has already been logged by the service.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		helpers.ErrorCode(w, http.StatusBadRequest, helpers.CodeValidation, "Validation error")
	case errors.Is(err, common.ErrEmailTaken):
		helpers.Error(w, http.StatusBadRequest, "Email is already registered")
	case errors.Is(err, common.ErrCredentialMismatch):
		helpers.Error(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, common.ErrTokenExpired):
		helpers.ErrorCode(w, http.StatusUnauthorized, helpers.CodeTokenExpired, "Token expired")
	case errors.Is(err, common.ErrTokenInvalid):
		helpers.ErrorCode(w, http.StatusUnauthorized, helpers.CodeTokenInvalid, "Invalid token")
	case errors.Is(err, common.ErrNotFound):
		helpers.Error(w, http.StatusNotFound, "User not found")
	default:
		if !errors.Is(err, common.ErrStorageUnavailable) {
			logger.WithCtx(r.Context()).Error("Unhandled service error", zap.Error(err))
		}
		helpers.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

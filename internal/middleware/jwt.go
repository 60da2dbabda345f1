package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
	"wattmate/internal/reqctx"
	helpers "wattmate/internal/utils/helpres"
)

// Authenticator resolves an access token to the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

func JWTAuth(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		token, ok := extractBearerToken(r.Header.Get("Authorization"))
		if !ok {
			logger.WithCtx(r.Context()).Warn("JWTAuth: missing access token")
			helpers.Error(w, http.StatusUnauthorized, "Access token required")
			return
		}

		user, err := auth.Authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrTokenExpired):
			logger.WithCtx(r.Context()).Info("JWTAuth: access token expired")
			helpers.ErrorCode(w, http.StatusUnauthorized, helpers.CodeTokenExpired, "Token expired")
			return
		case errors.Is(err, common.ErrStorageUnavailable):
			helpers.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		default:
			logger.WithCtx(r.Context()).Warn("JWTAuth: invalid access token", zap.Error(err))
			helpers.ErrorCode(w, http.StatusUnauthorized, helpers.CodeTokenInvalid, "Invalid token")
			return
		}

		ctx := reqctx.WithUser(r.Context(), user)
		logger.WithCtx(ctx).Debug("JWTAuth: token valid")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

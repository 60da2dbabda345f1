package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/metrics"
	"wattmate/internal/repository"
	"wattmate/internal/utils"
	helpers "wattmate/internal/utils/helpres"
)

type PasswordService struct {
	users    repository.UserRepo
	ledger   *Ledger
	hasher   *utils.PasswordHasher
	notifier Notifier
	appName  string
	appURL   string // frontend base URL, the link is {appURL}/reset-password?token=...
	tokenTTL time.Duration
	now      func() time.Time
}

func NewPasswordService(
	users repository.UserRepo,
	ledger *Ledger,
	hasher *utils.PasswordHasher,
	notifier Notifier,
	appName, appURL string,
	tokenTTL time.Duration,
) *PasswordService {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &PasswordService{
		users:    users,
		ledger:   ledger,
		hasher:   hasher,
		notifier: notifier,
		appName:  appName,
		appURL:   strings.TrimRight(appURL, "/"),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// ForgotPassword issues a reset token for a registered email and mails the link.
// It returns nil whether or not the email is registered; only storage failures surface.
func (s *PasswordService) ForgotPassword(ctx context.Context, email string) error {
	log := logger.WithCtx(ctx)
	email = normalizeEmail(email)
	log.Info("Password reset requested", zap.String("email", MaskEmail(email)))

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		log.Info("Password reset for unknown email ignored", zap.String("email", MaskEmail(email)))
		metrics.AuthEvent("forgot_password", "ok")
		return nil
	}
	if err != nil {
		return storageErr(ctx, "find user", err)
	}

	token, err := utils.NewOpaqueToken()
	if err != nil {
		log.Error("Reset token generation failed", zap.Error(err), zap.Int64("user_id", user.ID))
		return err
	}
	expires := s.now().Add(s.tokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, utils.HashToken(token), expires); err != nil {
		return storageErr(ctx, "set reset token", err)
	}

	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.appURL, url.QueryEscape(token))
	subject := fmt.Sprintf("Reset Password - %s", s.appName)
	body := helpers.BuildPasswordResetHTML(s.appName, resetLink, ttlLabel(s.tokenTTL))
	if err := s.notifier.Send(ctx, user.Email, subject, body); err != nil {
		// the token is stored either way, the user can ask again
		log.Error("Password reset email not queued",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	}

	metrics.AuthEvent("forgot_password", "ok")
	log.Info("Password reset link issued",
		zap.Int64("user_id", user.ID),
		zap.Time("expires_at", expires),
	)
	return nil
}

// ResetPassword consumes the token and sets the new password in one statement, then
// revokes every refresh token of the user. A used, unknown or expired token is ErrTokenInvalid.
func (s *PasswordService) ResetPassword(ctx context.Context, token, newPassword string) error {
	log := logger.WithCtx(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return common.ErrTokenInvalid
	}

	pwHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		log.Error("Password hashing failed", zap.Error(err))
		return err
	}

	userID, err := s.users.ResetPasswordByToken(ctx, utils.HashToken(token), pwHash, s.now())
	if errors.Is(err, common.ErrNotFound) {
		metrics.AuthEvent("reset_password", "denied")
		log.Warn("Reset password with invalid or expired token")
		return common.ErrTokenInvalid
	}
	if err != nil {
		return storageErr(ctx, "reset password", err)
	}

	n, err := s.ledger.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	metrics.TokensRemoved("reset", n)
	metrics.AuthEvent("reset_password", "ok")
	log.Info("Password reset", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	return nil
}

// ChangePassword checks the current password, stores the new one, clears any pending
// reset token and revokes every refresh token of the user.
func (s *PasswordService) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	log := logger.WithCtx(ctx)

	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrNotFound
	}
	if err != nil {
		return storageErr(ctx, "find user", err)
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		metrics.AuthEvent("change_password", "denied")
		log.Warn("Change password with wrong current password", zap.Int64("user_id", userID))
		return common.ErrCredentialMismatch
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		log.Error("Password hashing failed", zap.Error(err), zap.Int64("user_id", userID))
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return storageErr(ctx, "update password", err)
	}

	n, err := s.ledger.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	metrics.TokensRemoved("reset", n)
	metrics.AuthEvent("change_password", "ok")
	log.Info("Password changed", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	return nil
}

func ttlLabel(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

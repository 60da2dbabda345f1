package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
)

// Reset tokens live on the user row: one pending token per user, stored as a SHA-256 digest.

func (r *UserRepository) SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET reset_token_hash = $1, reset_token_expires_at = $2 WHERE id = $3`,
		tokenHash, expiresAt, id,
	)
	if err != nil {
		logger.Log.Error("Set reset token failed (repo)", zap.Error(err), zap.Int64("user_id", id))
		return fmt.Errorf("set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *UserRepository) GetResetToken(ctx context.Context, id int64) (*models.PasswordResetToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, reset_token_hash, reset_token_expires_at
		FROM users
		WHERE id = $1
		  AND reset_token_hash IS NOT NULL
	`, id)

	var t models.PasswordResetToken
	if err := row.Scan(&t.UserID, &t.TokenHash, &t.ExpiresAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *UserRepository) ResetPasswordByToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (int64, error) {
	var userID int64
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $1, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $3
		WHERE reset_token_hash = $2
		  AND reset_token_expires_at > $3
		RETURNING id
	`, passwordHash, tokenHash, now).Scan(&userID)
	if err != nil {
		err = mapErr(err)
		if err != common.ErrNotFound {
			logger.Log.Error("Reset password by token failed (repo)", zap.Error(err))
		}
		return 0, err
	}
	return userID, nil
}

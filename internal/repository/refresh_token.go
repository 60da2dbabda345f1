package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"wattmate/internal/logger"
	"wattmate/internal/models"
)

type RefreshTokenRepository struct {
	db *pgxpool.Pool
}

func NewRefreshTokenRepository(db *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

var _ RefreshTokenRepo = (*RefreshTokenRepository)(nil)

func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	logger.Log.Debug("Save refresh token (repo)", zap.Int64("user_id", t.UserID))
	err := r.db.QueryRow(ctx,
		`INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3) RETURNING created_at`,
		t.UserID, t.Token, t.ExpiresAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		logger.Log.Error("Save refresh token failed (repo)", zap.Int64("user_id", t.UserID), zap.Error(err))
		return mapErr(err)
	}
	return nil
}

func (r *RefreshTokenRepository) FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := r.db.QueryRow(ctx, `
		SELECT user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE token = $1 AND expires_at > $2
	`, token, now).Scan(&t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		logger.Log.Error("Delete refresh token failed (repo)", zap.Error(err))
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		logger.Log.Error("Delete user refresh tokens failed (repo)", zap.Int64("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		logger.Log.Error("Delete expired refresh tokens failed (repo)", zap.Error(err))
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepository) CountActiveByUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM refresh_tokens WHERE user_id = $1 AND expires_at > $2`,
		userID, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count refresh tokens: %w", err)
	}
	return n, nil
}

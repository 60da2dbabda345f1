package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
)

// SQLiteStore implements both repositories on database/sql with the mattn/go-sqlite3 driver.
// All timestamps are written in UTC so that the text encoding used by the driver
// orders the same way as the instants it stores.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

var (
	_ UserRepo         = (*SQLiteStore)(nil)
	_ RefreshTokenRepo = (*SQLiteStore)(nil)
)

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	logger.Log.Debug("Create user (sqlite)", zap.String("email", user.Email))
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO users (name, email, password_hash, phone, address, is_verified, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.PasswordHash, user.Phone, user.Address, user.IsVerified, now, now,
	)
	if err != nil {
		err = mapErr(err)
		if err != common.ErrAlreadyExists {
			logger.Log.Error("Create user failed (sqlite)", zap.Error(err))
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? COLLATE NOCASE`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, id int64, input *models.UpdateProfileRequest) (*models.User, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?`,
		input.Name, input.Phone, input.Address, s.now().UTC(), id,
	)
	if err != nil {
		logger.Log.Error("Update profile failed (sqlite)", zap.Int64("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	// RETURNING columns come back without a declared type, timestamps would scan as text
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE users
	SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
	WHERE id = ?`, passwordHash, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ? WHERE id = ?`,
		tokenHash, expiresAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetResetToken(ctx context.Context, id int64) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reset_token_hash, reset_token_expires_at
		FROM users
		WHERE id = ? AND reset_token_hash IS NOT NULL
	`, id).Scan(&t.UserID, &t.TokenHash, &t.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *SQLiteStore) ResetPasswordByToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (int64, error) {
	now = now.UTC()
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		WHERE reset_token_hash = ? AND reset_token_expires_at > ?
		RETURNING id
	`, passwordHash, now, tokenHash, now).Scan(&userID)
	if err != nil {
		return 0, mapErr(err)
	}
	return userID, nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *models.RefreshToken) error {
	t.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		t.UserID, t.Token, t.ExpiresAt.UTC(), t.CreatedAt,
	)
	if err != nil {
		logger.Log.Error("Save refresh token failed (sqlite)", zap.Int64("user_id", t.UserID), zap.Error(err))
		return mapErr(err)
	}
	return nil
}

func (s *SQLiteStore) FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE token = ? AND expires_at > ?
	`, token, now.UTC()).Scan(&t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *SQLiteStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountActiveByUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM refresh_tokens WHERE user_id = ? AND expires_at > ?`,
		userID, now.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count refresh tokens: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
)

const userColumns = `id, name, email, password_hash, phone, address, is_verified, created_at, updated_at`

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

var _ UserRepo = (*UserRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Phone,
		&u.Address,
		&u.IsVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	logger.Log.Debug("Create user (repo)", zap.String("email", user.Email))
	query := `
	INSERT INTO users (name, email, password_hash, phone, address, is_verified)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Phone,
		user.Address,
		user.IsVerified,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		err = mapErr(err)
		if err != common.ErrAlreadyExists {
			logger.Log.Error("Create user failed (repo)", zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	logger.Log.Debug("Get user by email (repo)", zap.String("email", email))
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, input *models.UpdateProfileRequest) (*models.User, error) {
	logger.Log.Debug("Update profile (repo)", zap.Int64("user_id", id))
	query := `
	UPDATE users SET name = $1, phone = $2, address = $3, updated_at = now()
	WHERE id = $4
	RETURNING ` + userColumns
	u, err := scanUser(r.db.QueryRow(ctx, query, input.Name, input.Phone, input.Address, id))
	if err != nil && err != common.ErrNotFound {
		logger.Log.Error("Update profile failed (repo)", zap.Int64("user_id", id), zap.Error(err))
	}
	return u, err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `
	UPDATE users
	SET password_hash = $1, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
	WHERE id = $2`, passwordHash, id)
	if err != nil {
		logger.Log.Error("Update password failed (repo)", zap.Int64("user_id", id), zap.Error(err))
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DeleteUser relies on ON DELETE CASCADE to drop the user's refresh tokens.
func (r *UserRepository) DeleteUser(ctx context.Context, id int64) error {
	logger.Log.Info("Delete user (repo)", zap.Int64("user_id", id))
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		logger.Log.Error("Delete user failed (repo)", zap.Int64("user_id", id), zap.Error(err))
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

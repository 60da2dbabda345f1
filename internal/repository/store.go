package repository

import (
	"context"
	"time"

	"wattmate/internal/models"
)

// UserRepo is the credential side of the storage boundary.
// Lookups return common.ErrNotFound on a miss; CreateUser returns common.ErrAlreadyExists
// for a duplicate email.
type UserRepo interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, input *models.UpdateProfileRequest) (*models.User, error)
	// UpdatePassword writes a new hash and clears any pending reset token.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error

	// SetResetToken overwrites any pending reset token of the user.
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error
	GetResetToken(ctx context.Context, id int64) (*models.PasswordResetToken, error)
	// ResetPasswordByToken is a compare-and-swap on the token digest: the hash is replaced and the
	// token cleared in one statement, only while the token is still live at now.
	ResetPasswordByToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (int64, error)
}

// RefreshTokenRepo is the ledger side of the storage boundary.
// Every time filter takes the server clock as an argument.
type RefreshTokenRepo interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
	// DeleteByToken reports whether a row was removed. Deleting an absent token is not an error.
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountActiveByUser(ctx context.Context, userID int64, now time.Time) (int64, error)
}

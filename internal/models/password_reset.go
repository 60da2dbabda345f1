package models

import "time"

// PasswordResetToken is the pending reset token carried on a user row.
// Only the digest of the token handed to the user is ever stored.
type PasswordResetToken struct {
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

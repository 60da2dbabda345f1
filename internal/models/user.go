package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone"`
	Address      *string   `json:"address"`
	IsVerified   bool      `json:"is_verified"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UpdateProfileRequest struct {
	Name    string  `json:"name"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

// swagger:model RegisterRequest
type RegisterRequest struct {
	Name            string  `json:"name"            example:"Budi Santoso"`
	Email           string  `json:"email"           example:"budi@example.com"`
	Password        string  `json:"password"        example:"secret123"`
	ConfirmPassword string  `json:"confirmPassword" example:"secret123"`
	Phone           *string `json:"phone,omitempty" example:"+62 812 3456 7890"`
	Address         *string `json:"address,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"    example:"budi@example.com"`
	Password string `json:"password" example:"secret123"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" example:"budi@example.com"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AuthResult is the payload of register and login.
type AuthResult struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Package common holds the error taxonomy shared by repositories, services and handlers.
package common

import "errors"

var (
	// ErrCredentialMismatch covers both a wrong password and an unknown email.
	ErrCredentialMismatch = errors.New("invalid email or password")
	// ErrTokenExpired means the signature is valid but the TTL has elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, unknown or revoked tokens and vanished identities.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenNotFound is a ledger miss. It never leaves the service layer as is.
	ErrTokenNotFound = errors.New("token not found")
	// ErrStorageUnavailable wraps any failure of the durable store.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// repository specific errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// transport facing errors
	ErrEmailTaken = errors.New("email already registered")
	ErrValidation = errors.New("validation error")
)

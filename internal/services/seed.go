package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
	"wattmate/internal/repository"
	"wattmate/internal/utils"
)

// SeedAdmin creates a verified account unless the email is already registered.
// It reports whether a user was created.
func SeedAdmin(ctx context.Context, users repository.UserRepo, hasher *utils.PasswordHasher, name, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if _, err := users.GetUserByEmail(ctx, email); err == nil {
		logger.Log.Info("Admin user already exists", zap.String("email", MaskEmail(email)))
		return false, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return false, storageErr(ctx, "find user", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return false, err
	}
	admin := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsVerified:   true,
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return false, nil
		}
		return false, storageErr(ctx, "create user", err)
	}
	logger.Log.Info("Admin user created", zap.Int64("user_id", admin.ID), zap.String("email", MaskEmail(email)))
	return true, nil
}

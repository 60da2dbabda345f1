package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/metrics"
	"wattmate/internal/models"
	"wattmate/internal/repository"
)

// Ledger is the persisted record of issued refresh tokens. A refresh token is only
// honoured while its row exists, so deleting the row is how a session is revoked.
// Every time comparison uses the server clock.
type Ledger struct {
	repo repository.RefreshTokenRepo
	now  func() time.Time
}

func NewLedger(repo repository.RefreshTokenRepo) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// storageErr logs the backend failure with its detail and hides it behind ErrStorageUnavailable.
func storageErr(ctx context.Context, op string, err error) error {
	logger.WithCtx(ctx).Error("Storage failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s", common.ErrStorageUnavailable, op)
}

func (l *Ledger) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	rec := &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	if err := l.repo.Create(ctx, rec); err != nil {
		return storageErr(ctx, "ledger create", err)
	}
	return nil
}

// FindActive returns the record while it exists and its stored expiry is in the future.
func (l *Ledger) FindActive(ctx context.Context, token string) (*models.RefreshToken, error) {
	rec, err := l.repo.FindActive(ctx, token, l.now())
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrTokenNotFound
	}
	if err != nil {
		return nil, storageErr(ctx, "ledger find", err)
	}
	return rec, nil
}

// DeleteByToken is idempotent: removing an absent token reports false without error.
func (l *Ledger) DeleteByToken(ctx context.Context, token string) (bool, error) {
	ok, err := l.repo.DeleteByToken(ctx, token)
	if err != nil {
		return false, storageErr(ctx, "ledger delete", err)
	}
	return ok, nil
}

func (l *Ledger) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	n, err := l.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, storageErr(ctx, "ledger delete by user", err)
	}
	return n, nil
}

func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, storageErr(ctx, "ledger sweep", err)
	}
	metrics.TokensRemoved("sweep", n)
	return n, nil
}

func (l *Ledger) CountActive(ctx context.Context, userID int64) (int64, error) {
	n, err := l.repo.CountActiveByUser(ctx, userID, l.now())
	if err != nil {
		return 0, storageErr(ctx, "ledger count", err)
	}
	return n, nil
}

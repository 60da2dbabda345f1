package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/logger"
)

// StartLedgerSweeper removes expired refresh tokens on every tick until ctx is done.
func StartLedgerSweeper(ctx context.Context, ledger *Ledger, interval time.Duration) {
	if interval <= 0 {
		logger.Log.Warn("Ledger sweeper disabled", zap.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := ledger.SweepExpired(ctx)
				if err != nil {
					logger.Log.Error("Ledger sweep failed", zap.Error(err))
					continue
				}
				logger.Log.Info("Ledger sweep done", zap.Int64("removed", n))
			case <-ctx.Done():
				logger.Log.Info("Ledger sweeper stopped")
				return
			}
		}
	}()
}

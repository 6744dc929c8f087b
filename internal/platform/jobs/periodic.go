// Package jobs runs the background work of the API process: outbox delivery and periodic
// maintenance.
package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RunEvery calls fn immediately and then on every tick until ctx is done. Errors are logged
// and never stop the loop.
func RunEvery(ctx context.Context, interval time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) {
	if interval <= 0 || fn == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("periodic job failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

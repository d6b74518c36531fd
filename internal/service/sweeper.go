package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

// RunPeriodically calls fn every interval until ctx is done. Each run holds a lease named
// after the job so concurrent replicas do not sweep the same rows.
func RunPeriodically(ctx context.Context, locker interfaces.Locker, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	telemetry.Logger.Info("Started periodic job", zap.String("job", name), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, locker, name, interval, fn)
		}
	}
}

func runOnce(ctx context.Context, locker interfaces.Locker, name string, lease time.Duration, fn func(context.Context) error) {
	ok, err := locker.Acquire(ctx, name, lease)
	if err != nil {
		telemetry.Logger.Warn("Failed to acquire job lease", zap.String("job", name), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := locker.Release(context.WithoutCancel(ctx), name); err != nil {
			telemetry.Logger.Warn("Failed to release job lease", zap.String("job", name), zap.Error(err))
		}
	}()

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		telemetry.Logger.Error("Periodic job failed", zap.String("job", name), zap.Error(err))
	}
}

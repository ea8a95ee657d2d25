package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	waitBase = 100 * time.Millisecond
	waitCap  = 2 * time.Second
)

// waitFor calls ping with capped exponential backoff until it succeeds or timeout
// elapses. Backends started alongside the server (compose, k8s) are often not ready
// on the first attempt.
func waitFor(ctx context.Context, logger *slog.Logger, name string, timeout time.Duration, ping func(context.Context) error) error {
	backoff := retry.NewExponential(waitBase)
	backoff = retry.WithCappedDuration(waitCap, backoff)
	backoff = retry.WithMaxDuration(timeout, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			logger.Warn("backend not ready", "backend", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("BACKEND_UNREACHABLE").
			With("backend", name).
			With("attempts", attempt).
			Wrap(err)
	}
	if attempt > 1 {
		logger.Info("backend ready", "backend", name, "attempts", attempt)
	}
	return nil
}

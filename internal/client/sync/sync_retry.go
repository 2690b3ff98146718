package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// retry runs fn until it succeeds, fails with a non transient error,
// the retry budget runs out or ctx is done
func retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if !Classify(err).Retryable() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, cfg.backOff(ctx), func(err error, wait time.Duration) {
		slog.Warn("sync retry", "op", op, "attempt", attempt, "wait", wait, "error", err)
	})
}

// retryErr is retry for calls without a result
func retryErr(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	_, err := retry(ctx, cfg, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

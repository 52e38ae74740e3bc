package embedder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff for batch embedding
type RetryConfig struct {
	MaxRetries int           // Attempts after the first
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.MaxInterval = c.MaxDelay
	exp.Multiplier = c.Multiplier
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = exp
	if c.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// retryWithBackoff runs fn until it succeeds, returns a permanent error,
// exhausts its retries or ctx is done
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	result, err := backoff.RetryWithData(func() (T, error) {
		res, err := fn()
		if err != nil && ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		return res, err
	}, config.backOff(ctx))
	if err != nil && ctx.Err() != nil {
		var zero T
		return zero, ctx.Err()
	}
	return result, err
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// readRetry bounds retries of idempotent reads (statistics, heartbeats).
// Writes that could double-apply never go through it.
var readRetry = retryPolicy{attempts: 3, base: 50 * time.Millisecond}

type retryPolicy struct {
	attempts int
	base     time.Duration
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := 0
	if p.attempts > 1 {
		retries = p.attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// do runs fn until it succeeds, fails permanently or the attempts run out.
// Only transient store errors are retried.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	return !isDomainError(err)
}

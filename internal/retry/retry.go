// Package retry is the single retry-with-backoff utility used by storage
// cleanup, asset fetching, and video preloading.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Strategy returns the delay to wait before the given attempt (1-based; the
// first attempt runs immediately).
type Strategy func(attempt int) time.Duration

// Linear waits attempt*step before each retry.
func Linear(step time.Duration) Strategy {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential doubles the delay on every retry, starting at base.
func Exponential(base time.Duration) Strategy {
	return func(attempt int) time.Duration {
		return base << uint(attempt-1)
	}
}

// Do runs fn up to maxAttempts times, sleeping per the strategy between
// attempts. It stops early when the context is done and returns the last
// error once attempts are exhausted.
func Do(ctx context.Context, maxAttempts int, strategy Strategy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy(attempt)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// Package retry holds the backoff helpers used by the background tickers.
package retry

import (
	"context"
	"time"
)

// this global variable is used to store the sleep function, and is used for testing purposes
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep waits for d and returns early with the context error if ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleepFunc(ctx, d)
}

// BackoffAndSleep sleeps for (backoffMultiplier*retries)+1 units of durationType.
// The function returns early if the context is cancelled.
func BackoffAndSleep(ctx context.Context, retries int, backoffMultiplier int, durationType time.Duration) error {
	backoff := (backoffMultiplier * retries) + 1
	backoffPeriod := time.Duration(backoff) * durationType

	return sleepFunc(ctx, backoffPeriod)
}

// CappedExponentialBackoff calculates the next backoff duration: currentBackoff multiplied by
// backoffFactor, never more than maxBackoff.
func CappedExponentialBackoff(currentBackoff time.Duration, backoffFactor float64, maxBackoff time.Duration) time.Duration {
	nextBackoff := time.Duration(float64(currentBackoff) * backoffFactor)
	if nextBackoff > maxBackoff {
		return maxBackoff
	}

	return nextBackoff
}

package connector

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs op with exponential backoff and jitter. Errors the
// predicate rejects abort immediately. FMF_RETRY_MAX_ELAPSED (seconds)
// bounds the total time spent retrying.
func Retry[T any](ctx context.Context, op func() (T, error), retryable func(error) bool) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	}
	if d := retryMaxElapsed(); d > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(d))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}

// RetryableStatus reports whether an HTTP status warrants another
// attempt: throttling and transient server failures.
func RetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

func retryMaxElapsed() time.Duration {
	raw := os.Getenv("FMF_RETRY_MAX_ELAPSED")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

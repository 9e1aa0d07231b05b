package provider

import (
	"context"
	"time"

	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/metrics"
)

const (
	maxAttempts  = 5
	initialDelay = 250 * time.Millisecond
	maxDelay     = 2 * time.Second
)

// Retryable reports whether a provider error is transient: throttling
// or a server-side failure.
func Retryable(err error) bool {
	status := errdefs.StatusCode(err)
	return status == 429 || status >= 500
}

// Do runs op with exponential backoff on retryable errors and returns
// how many retries were spent. Adapters surface the count in the
// completion so the run manifest can record it.
func Do(ctx context.Context, op func() error) (int, error) {
	delay := initialDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return attempt, nil
		}
		if !Retryable(err) || attempt >= maxAttempts-1 {
			if Retryable(err) {
				metrics.Inc("retry.failures", 1)
			}
			return attempt, err
		}
		metrics.Inc("retry.attempts", 1)
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

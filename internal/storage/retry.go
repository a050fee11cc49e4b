package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/zwkere/KatelyaTV/internal/metrics"
)

// retryPolicy bounds the retry loop around operations against the
// network-reached backends.
type retryPolicy struct {
	attempts int           // total attempts, including the first
	backoff  time.Duration // linear: backoff × attempt number
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 3, backoff: time.Second}
}

// withRetry runs op up to pol.attempts times. Transient failures sleep
// backoff × attempt, invoke the revive hook (if any) so a dead shared client
// handle can be re-established, and try again. Terminal failures are
// returned immediately, untouched. Exhausting the budget wraps the last
// error in ErrBackendUnavailable: the caller sees a hard failure, never
// silent data loss.
func withRetry[T any](ctx context.Context, pol retryPolicy, revive func(context.Context) error, op func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		if attempt >= pol.attempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrBackendUnavailable, pol.attempts, err)
		}

		metrics.StorageRetries.Inc()
		timer := time.NewTimer(pol.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		if revive != nil {
			_ = revive(ctx) // probe failures surface through the next attempt
		}
	}
}

// withRetryErr is withRetry for operations without a result value.
func withRetryErr(ctx context.Context, pol retryPolicy, revive func(context.Context) error, op func(context.Context) error) error {
	_, err := withRetry(ctx, pol, revive, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/finfiles/finfiles/internal/infra"
)

// ErrUpstreamUnavailable marks a transient upstream failure that survived
// retry exhaustion. It is surfaced per ticker; other tickers keep polling.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// backoffDelay returns the delay before retry attempt n (0-based):
// base doubled per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// retryable reports whether an upstream error is worth another attempt.
// Rate-limit and 5xx responses and transport failures are transient;
// context cancellation and payload errors are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *infra.HTTPStatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Non-HTTP errors at this level are transport failures.
	return true
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

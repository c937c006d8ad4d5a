// Package backoff computes exponential retry delays with jitter. It is
// shared by the Cloud Channel's request retry, the Device Channel's
// connection retry (which uses only Sleep) and the File Monitor's
// auto-reconnect loop so the core has one backoff primitive instead of
// hand-rolled copies.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const jitterFraction = 0.25

// Exponential computes attempt-indexed exponential backoff with ±25% jitter.
// The delay is clamped to maxDelay before the jitter is applied, so the
// result can reach 1.25×maxDelay. attempt is zero-based: Exponential(base, max, 0) is the
// delay before the second attempt, Exponential(base, max, 1) before the
// third, and so on.
func Exponential(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	jitter := delay * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not a security primitive

	if result := delay + jitter; result > 0 {
		return time.Duration(result)
	}

	return 0
}

// Sleep waits for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

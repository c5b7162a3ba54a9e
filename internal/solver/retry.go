package solver

import (
	"context"
	"math/rand"
	"time"

	"quizsolver/internal/domain"
)

// retryPolicy bounds how often a single stage may be attempted and how
// long to wait between tries.
type retryPolicy struct {
	maxAttempts int
	base        time.Duration
	maxDelay    time.Duration
	jitter      float64 // fraction of the delay, applied +/-
}

func newRetryPolicy(maxAttempts int, base time.Duration) retryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retryPolicy{
		maxAttempts: maxAttempts,
		base:        base,
		maxDelay:    8 * time.Second,
		jitter:      0.2,
	}
}

// delay returns the backoff before try n+1 (n counts completed tries).
func (p retryPolicy) delay(n int) time.Duration {
	d := p.base << n
	if d > p.maxDelay {
		d = p.maxDelay
	}
	if p.jitter > 0 {
		spread := float64(d) * p.jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}

// retryStage runs fn until it succeeds, fails fatally, exhausts the
// attempt bound, or the context ends. It returns the number of calls made
// alongside the result; a stage that fails maxAttempts consecutive times
// is never called again.
func retryStage[T any](ctx context.Context, p retryPolicy, fn func() (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	for n := 0; n < p.maxAttempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return zero, n, domain.Fatal(domain.KindDeadline, ctx.Err())
			case <-time.After(p.delay(n - 1)):
			}
		}
		v, err := fn()
		if err == nil {
			return v, n + 1, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return zero, n + 1, err
		}
	}
	return zero, p.maxAttempts, lastErr
}

// Package resilience provides retry, backoff, and circuit breaker support
// for the pipeline's external boundaries: source adapter reconnects, the
// extraction gateway, and outbound notifications.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff computes exponential delays with jitter. The zero value is not
// usable; construct with NewBackoff.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
	jitter  float64
}

// NewBackoff returns a backoff starting at initial and doubling up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = 60 * time.Second
	}
	return &Backoff{initial: initial, max: max, jitter: 0.25}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := float64(b.initial) * math.Pow(2, float64(b.attempt))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	b.attempt++
	// ±25% jitter so reconnecting adapters don't stampede together.
	d += (rand.Float64()*2 - 1) * d * b.jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Reset restarts the schedule after a healthy period.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for the next backoff delay or until ctx is done.
func (b *Backoff) Sleep(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig controls bounded retries around a single call.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the base delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// ShouldRetry overrides the default transient-error check.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig returns the retry settings used for service calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Retry runs fn up to cfg.MaxAttempts times, backing off between attempts.
// Only transient errors are retried; context cancellation stops immediately.
func Retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	bo := NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		zap.L().Warn("retrying operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := bo.Sleep(ctx); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

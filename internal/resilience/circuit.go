package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker
// tripped. Callers treat it as an extraction failure: the batch is dropped
// and the pipeline continues.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker guarding one external
// service. It opens after Threshold consecutive failures and probes again
// after Cooldown.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a breaker. threshold <= 0 defaults to 5 failures and
// cooldown <= 0 to 30 seconds.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Call runs fn through the breaker, recording the outcome.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, ErrCircuitOpen
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	return !b.allow()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	// Open: allow a probe once the cooldown has elapsed.
	return b.now().Sub(b.openedAt) >= b.cooldown
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = b.now()
	} else if b.failures > b.threshold {
		// Failed probe: restart the cooldown.
		b.openedAt = b.now()
	}
}

// Package ingest connects source adapters to the pipeline's bounded fan-in
// queue. Adapters normalize their wire formats into model.Item; the intake
// applies the noise filter and dedup ledger before admission.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/resilience"
)

// EmitFunc hands a normalized item to the intake. It blocks when the queue is
// full; the returned error is only ever the context's.
type EmitFunc func(ctx context.Context, item model.Item) error

// Adapter is a single source of raw content. Run connects and emits items
// until the stream ends or ctx is canceled. Returning an error signals a
// disconnect; the supervisor reconnects with backoff.
type Adapter interface {
	Name() string
	Origin() model.Origin
	Run(ctx context.Context, emit EmitFunc) error
}

// supervise runs the adapter in a reconnect loop. A clean return or a
// disconnect both restart the adapter after a backoff; only context
// cancellation ends the loop. One adapter's failures never surface to
// siblings.
func supervise(ctx context.Context, a Adapter, emit EmitFunc, initial, max time.Duration) error {
	backoff := resilience.NewBackoff(initial, max)
	for {
		start := time.Now()
		err := a.Run(ctx, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff.Reset()
		}
		zap.L().Warn("adapter disconnected, reconnecting",
			zap.String("adapter", a.Name()),
			zap.Error(err))

		if err := backoff.Sleep(ctx); err != nil {
			return err
		}
	}
}

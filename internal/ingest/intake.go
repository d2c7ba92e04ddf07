package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/rules"
)

// Ledger is the dedup subset of the store the intake needs.
type Ledger interface {
	Seen(ctx context.Context, origin model.Origin, externalID string) (bool, error)
	MarkSeen(ctx context.Context, origin model.Origin, externalID string) error
}

// Intake fans all adapters into one bounded queue. Every item passes the
// noise filter and the dedup ledger before admission; enqueue blocks the
// producing adapter when the queue is full.
type Intake struct {
	adapters []Adapter
	filter   *rules.Filter
	ledger   Ledger
	queue    chan model.Item

	// ReconnectInitial and ReconnectMax override the adapter reconnect
	// backoff when set before Run.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func NewIntake(filter *rules.Filter, ledger Ledger, capacity int, adapters ...Adapter) *Intake {
	if capacity <= 0 {
		capacity = 256
	}
	return &Intake{
		adapters: adapters,
		filter:   filter,
		ledger:   ledger,
		queue:    make(chan model.Item, capacity),
	}
}

// Out is the admitted-item stream. It closes once Run returns.
func (in *Intake) Out() <-chan model.Item {
	return in.queue
}

// Run supervises all adapters until ctx is canceled, then closes the queue.
func (in *Intake) Run(ctx context.Context) error {
	initial, max := in.ReconnectInitial, in.ReconnectMax
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 2 * time.Minute
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range in.adapters {
		g.Go(func() error {
			return supervise(ctx, a, in.admit, initial, max)
		})
	}
	err := g.Wait()
	close(in.queue)
	return err
}

// admit applies filter then ledger, marking the item seen before enqueue so
// a given (origin, externalId) is admitted at most once across restarts.
func (in *Intake) admit(ctx context.Context, item model.Item) error {
	if !in.filter.Accept(item) {
		return nil
	}

	seen, err := in.ledger.Seen(ctx, item.Origin, item.ExternalID)
	if err != nil {
		zap.L().Error("ledger lookup failed",
			zap.String("origin", string(item.Origin)),
			zap.String("external_id", item.ExternalID),
			zap.Error(err))
		return nil
	}
	if seen {
		return nil
	}
	if err := in.ledger.MarkSeen(ctx, item.Origin, item.ExternalID); err != nil {
		zap.L().Error("ledger insert failed",
			zap.String("external_id", item.ExternalID),
			zap.Error(err))
		return nil
	}

	select {
	case in.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

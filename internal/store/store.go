// Package store persists the pipeline's three durable record kinds: the
// dedup ledger of admitted raw items, intelligence records, and events.
// All shared-state mutation in the system goes through this interface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sentinel/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// EventCluster pairs an event with the source URLs of its member records.
// Used by the offline re-clustering pass to swap the whole event set in one
// transaction.
type EventCluster struct {
	Event      model.Event
	MemberURLs []string
}

// Store defines the persistence interface for the intelligence pipeline.
type Store interface {
	// Dedup ledger. MarkSeen is idempotent: re-inserting an existing
	// (origin, externalID) pair is a no-op, which is what guarantees
	// at-most-once admission across restarts and adapter retries.
	Seen(ctx context.Context, origin model.Origin, externalID string) (bool, error)
	MarkSeen(ctx context.Context, origin model.Origin, externalID string) error

	// Intelligence records, keyed by source URL.
	SaveIntelligence(ctx context.Context, rec *model.IntelligenceRecord) error
	GetIntelligence(ctx context.Context, sourceURL string) (*model.IntelligenceRecord, error)
	AssignEvent(ctx context.Context, sourceURL, eventID string) error
	IntelligenceSince(ctx context.Context, since time.Time) ([]model.IntelligenceRecord, error)
	EventMembers(ctx context.Context, eventID string) ([]model.IntelligenceRecord, error)

	// Events.
	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	UpdateEvent(ctx context.Context, ev *model.Event) error
	EventsSince(ctx context.Context, since time.Time) ([]model.Event, error)
	AlertableEvents(ctx context.Context, minSignal int) ([]model.Event, error)
	SetEventAlerted(ctx context.Context, id string, alerted bool) error
	DeleteEvent(ctx context.Context, id string) error

	// ReplaceEvents atomically swaps the entire event set for the given
	// clusters: old events are deleted, member records re-pointed, new
	// events inserted, all in one transaction. On error nothing changes.
	ReplaceEvents(ctx context.Context, clusters []EventCluster) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

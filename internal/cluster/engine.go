// Package cluster groups intelligence records into events. The online path
// matches each new record against recent event centroids; the offline path
// periodically rebuilds the whole event set from scratch to correct drift.
package cluster

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/index"
	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/store"
)

const eventLockStripes = 64

// Engine implements online match-or-create assignment.
type Engine struct {
	store          store.Store
	idx            *index.Index
	matchThreshold float64
	recencyWindow  time.Duration
	now            func() time.Time

	// assignMu serializes the match-or-create decision so two concurrent
	// records for the same fact cannot both conclude "no match" and create
	// twin events.
	assignMu sync.Mutex

	// eventMu stripes serialize the read-modify-write of a single event's
	// membership and centroid.
	eventMu [eventLockStripes]sync.Mutex
}

func NewEngine(st store.Store, idx *index.Index, matchThreshold float64, recencyWindow time.Duration) *Engine {
	return &Engine{
		store:          st,
		idx:            idx,
		matchThreshold: matchThreshold,
		recencyWindow:  recencyWindow,
		now:            time.Now,
	}
}

func (e *Engine) lockEvent(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.eventMu[h.Sum32()%eventLockStripes]
}

// Assign attaches the record to the nearest recent event centroid within the
// matching threshold, or creates a new event seeded from the record. The
// record must already be persisted. Returns the event ID and whether a new
// event was created.
func (e *Engine) Assign(ctx context.Context, rec *model.IntelligenceRecord) (string, bool, error) {
	for {
		e.assignMu.Lock()
		since := e.now().Add(-e.recencyWindow)
		matches := e.idx.Query(rec.Embedding, index.KindEvent, since, 1)
		if len(matches) == 0 || matches[0].Distance >= e.matchThreshold {
			// Create while still holding the lock: the new centroid must be
			// queryable before another Assign runs its match, or two records
			// for the same fact would each conclude "no match" and create
			// twin events.
			id, err := e.create(ctx, rec)
			e.assignMu.Unlock()
			if err != nil {
				return "", false, err
			}
			e.idx.Upsert(rec.SourceURL, index.KindRecord, rec.Embedding, rec.CreatedAt)
			return id, true, nil
		}
		target := matches[0].ID
		e.assignMu.Unlock()

		attached, err := e.attach(ctx, rec, target)
		if err != nil {
			return "", false, err
		}
		if attached {
			e.idx.Upsert(rec.SourceURL, index.KindRecord, rec.Embedding, rec.CreatedAt)
			return target, false, nil
		}
		// Event vanished between match and attach (recluster swap); drop the
		// stale index entry and rerun the decision.
		e.idx.Remove(target)
	}
}

func (e *Engine) attach(ctx context.Context, rec *model.IntelligenceRecord, eventID string) (bool, error) {
	mu := e.lockEvent(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := e.store.AssignEvent(ctx, rec.SourceURL, eventID); err != nil {
		return false, err
	}
	members, err := e.store.EventMembers(ctx, eventID)
	if err != nil {
		return false, err
	}

	embeddings := make([][]float32, 0, len(members))
	signal := 0
	summary := ev.Summary
	for _, m := range members {
		if m.Embedding != nil {
			embeddings = append(embeddings, m.Embedding)
		}
		if m.Signal > signal {
			signal = m.Signal
			summary = m.Summary
		}
	}

	ev.Centroid = model.Centroid(embeddings)
	ev.Summary = summary
	// New evidence that changes the severity reopens the alert; a summary
	// rewrite alone does not.
	if signal != ev.Signal {
		ev.Signal = signal
		ev.Alerted = false
	}
	ev.LastUpdatedAt = e.now().UTC()

	if err := e.store.UpdateEvent(ctx, ev); err != nil {
		return false, err
	}
	e.idx.Upsert(ev.ID, index.KindEvent, ev.Centroid, ev.LastUpdatedAt)

	zap.L().Debug("record attached to event",
		zap.String("event_id", ev.ID),
		zap.String("source_url", rec.SourceURL),
		zap.Int("members", len(members)))
	return true, nil
}

func (e *Engine) create(ctx context.Context, rec *model.IntelligenceRecord) (string, error) {
	now := e.now().UTC()
	ev := &model.Event{
		ID:            uuid.NewString(),
		Summary:       rec.Summary,
		Centroid:      model.Normalize(rec.Embedding),
		Signal:        rec.Signal,
		AddedAt:       now,
		LastUpdatedAt: now,
	}
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		return "", err
	}
	if err := e.store.AssignEvent(ctx, rec.SourceURL, ev.ID); err != nil {
		// An event must never persist without members.
		if delErr := e.store.DeleteEvent(ctx, ev.ID); delErr != nil {
			zap.L().Error("orphan event cleanup failed",
				zap.String("event_id", ev.ID), zap.Error(delErr))
		}
		return "", err
	}
	e.idx.Upsert(ev.ID, index.KindEvent, ev.Centroid, ev.LastUpdatedAt)

	zap.L().Info("event created",
		zap.String("event_id", ev.ID),
		zap.String("source_url", rec.SourceURL),
		zap.Int("signal", ev.Signal))
	return ev.ID, nil
}

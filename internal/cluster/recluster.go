package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/index"
	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/store"
)

// ReclusterConfig tunes the offline pass.
type ReclusterConfig struct {
	Window         time.Duration
	MinClusterSize int
	SpectralDims   int
	GraphNeighbors int
	Eps            float64
	EventSignal    int
}

// Recluster rebuilds the event set from scratch over a window of stored
// records. The result replaces all current events in one transaction; any
// failure, including cancellation mid-computation, leaves the prior event
// set untouched.
type Recluster struct {
	store store.Store
	idx   *index.Index
	cfg   ReclusterConfig
	now   func() time.Time
}

func NewRecluster(st store.Store, idx *index.Index, cfg ReclusterConfig) *Recluster {
	return &Recluster{store: st, idx: idx, cfg: cfg, now: time.Now}
}

func (r *Recluster) Run(ctx context.Context) error {
	since := r.now().Add(-r.cfg.Window)
	recs, err := r.store.IntelligenceSince(ctx, since)
	if err != nil {
		return eris.Wrap(err, "recluster: load records")
	}

	embedded := recs[:0]
	for _, rec := range recs {
		if rec.Embedding != nil {
			embedded = append(embedded, rec)
		}
	}
	if len(embedded) < r.cfg.MinClusterSize {
		zap.L().Info("recluster skipped, too few records",
			zap.Int("records", len(embedded)),
			zap.Int("min_cluster_size", r.cfg.MinClusterSize))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "recluster: canceled")
	}

	vecs := make([][]float32, len(embedded))
	for i, rec := range embedded {
		vecs[i] = rec.Embedding
	}
	points, err := spectralEmbed(vecs, r.cfg.SpectralDims, r.cfg.GraphNeighbors)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "recluster: canceled")
	}

	labels := dbscan(points, r.cfg.Eps, r.cfg.MinClusterSize)
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "recluster: canceled")
	}

	clusters, entries := r.buildClusters(embedded, labels)
	if err := r.store.ReplaceEvents(ctx, clusters); err != nil {
		return eris.Wrap(err, "recluster: swap events")
	}
	r.idx.ReplaceKind(index.KindEvent, entries)

	noise := 0
	for _, l := range labels {
		if l == noiseLabel {
			noise++
		}
	}
	zap.L().Info("recluster complete",
		zap.Int("records", len(embedded)),
		zap.Int("events", len(clusters)),
		zap.Int("noise", noise))
	return nil
}

// buildClusters turns dbscan labels into events. Noise points get no event.
// Each event's centroid is the re-normalized mean of its members' original
// embeddings, its summary comes from the highest-signal member, and its
// signal is the configured representative value.
func (r *Recluster) buildClusters(recs []model.IntelligenceRecord, labels []int) ([]store.EventCluster, []index.Entry) {
	byLabel := map[int][]int{}
	for i, l := range labels {
		if l == noiseLabel {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}

	now := r.now().UTC()
	clusters := make([]store.EventCluster, 0, len(byLabel))
	entries := make([]index.Entry, 0, len(byLabel))
	for _, members := range byLabel {
		embeddings := make([][]float32, 0, len(members))
		urls := make([]string, 0, len(members))
		summary, best := "", -1
		for _, i := range members {
			embeddings = append(embeddings, recs[i].Embedding)
			urls = append(urls, recs[i].SourceURL)
			if recs[i].Signal > best {
				best = recs[i].Signal
				summary = recs[i].Summary
			}
		}

		ev := model.Event{
			ID:            uuid.NewString(),
			Summary:       summary,
			Centroid:      model.Centroid(embeddings),
			Signal:        r.cfg.EventSignal,
			AddedAt:       now,
			LastUpdatedAt: now,
		}
		clusters = append(clusters, store.EventCluster{Event: ev, MemberURLs: urls})
		entries = append(entries, index.Entry{ID: ev.ID, Vec: ev.Centroid, At: now})
	}
	return clusters, entries
}

// Package index provides an in-memory cosine similarity index over the
// embeddings of recent records and event centroids. Exact search over a flat
// slice is deliberate: the candidate set is bounded by the recency window, so
// a graph index would add persistence and tuning surface for no win at this
// scale.
package index

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/sentinel/internal/model"
)

// Kind partitions entries so record lookups and event-centroid lookups never
// mix.
type Kind string

const (
	KindRecord Kind = "record"
	KindEvent  Kind = "event"
)

// Match is a query hit, nearest first.
type Match struct {
	ID       string
	Distance float64
}

type entry struct {
	kind Kind
	vec  []float32
	at   time.Time
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Index {
	return &Index{entries: make(map[string]entry)}
}

// Upsert inserts or replaces an entry. The vector is normalized on the way
// in so queries can use dot-product distance directly.
func (ix *Index) Upsert(id string, kind Kind, vec []float32, at time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = entry{kind: kind, vec: model.Normalize(vec), at: at}
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

// Len reports the number of entries of the given kind.
func (ix *Index) Len(kind Kind) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, e := range ix.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// Query returns up to k entries of the given kind stamped at or after since,
// ordered by ascending cosine distance to vec. Entries whose dimensionality
// does not match vec are skipped.
func (ix *Index) Query(vec []float32, kind Kind, since time.Time, k int) []Match {
	q := model.Normalize(vec)

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.entries))
	for id, e := range ix.entries {
		if e.kind != kind || e.at.Before(since) {
			continue
		}
		d := model.CosineDistance(q, e.vec)
		if d > 1.5 { // mismatched or zero vector sentinel
			continue
		}
		matches = append(matches, Match{ID: id, Distance: d})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Prune drops entries of any kind stamped before the cutoff and reports how
// many were removed.
func (ix *Index) Prune(before time.Time) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for id, e := range ix.entries {
		if e.at.Before(before) {
			delete(ix.entries, id)
			n++
		}
	}
	return n
}

// Entry is an (id, vector, timestamp) triple for bulk replacement.
type Entry struct {
	ID  string
	Vec []float32
	At  time.Time
}

// ReplaceKind atomically swaps every entry of the given kind for the provided
// set. Entries of other kinds are untouched. The recluster pass uses this to
// publish a new event-centroid generation in one step.
func (ix *Index) ReplaceKind(kind Kind, entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, e := range ix.entries {
		if e.kind == kind {
			delete(ix.entries, id)
		}
	}
	for _, e := range entries {
		ix.entries[e.ID] = entry{kind: kind, vec: model.Normalize(e.Vec), at: e.At}
	}
}

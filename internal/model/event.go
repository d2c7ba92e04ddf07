package model

import "time"

// Event is a cluster of corroborating intelligence records representing one
// real-world occurrence. Its centroid is always the re-normalized mean of the
// current members' embeddings; the clustering engine recomputes it on every
// membership change. An event exists only while it has at least one member.
type Event struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	Centroid      []float32 `json:"-"`
	Signal        int       `json:"signal"`
	Alerted       bool      `json:"alerted"`
	AddedAt       time.Time `json:"added_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// EventContext is the trimmed event view handed to the reasoning service so
// it can match new items against already-known occurrences. Optional context
// only; the similarity index remains the ground truth for matching.
type EventContext struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

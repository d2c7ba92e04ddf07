package model

import "time"

// Origin identifies the kind of source an item was ingested from.
type Origin string

const (
	OriginBluesky  Origin = "bluesky"
	OriginMastodon Origin = "mastodon"
	OriginRSS      Origin = "rss"
)

// Item is one normalized unit of raw content emitted by a source adapter.
// Items are immutable once created; derived records reference them by URL.
type Item struct {
	Origin        Origin    `json:"origin"`
	ExternalID    string    `json:"external_id"`
	URL           string    `json:"url"`
	AuthorID      string    `json:"author_id,omitempty"`
	Text          string    `json:"text"`
	OutboundLinks []string  `json:"outbound_links,omitempty"`
	ArrivedAt     time.Time `json:"arrived_at"`
}

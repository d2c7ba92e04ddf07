package model

import "time"

// SignalMax bounds the signal score assigned by the reasoning service.
const SignalMax = 10

// IntelligenceRecord is the structured extraction result for one admitted
// item. EventID is empty until the clustering engine assigns the record;
// it and UpdatedAt are the only fields that mutate after creation.
type IntelligenceRecord struct {
	SourceURL string    `json:"source_url"`
	Summary   string    `json:"summary"`
	Signal    int       `json:"signal"`
	Embedding []float32 `json:"-"`
	Financial bool      `json:"financial"`
	Alertable bool      `json:"alertable"`
	EventID   string    `json:"event_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

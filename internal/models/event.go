package models

import (
	"encoding/json"
	"time"
)

// PushEventRecord is one row of the push_events table.
type PushEventRecord struct {
	ID         int64           `db:"id" json:"id"`
	Category   string          `db:"category" json:"category"`
	Verb       string          `db:"verb" json:"verb"`
	ResourceID string          `db:"resource_id" json:"resource_id"`
	Attribute  string          `db:"attribute" json:"attribute"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}

// StreamEvent is written to websocket subscribers.
type StreamEvent struct {
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Verb       string          `json:"verb"`
	ID         string          `json:"id,omitempty"`
	Attribute  string          `json:"attribute,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Added      json.RawMessage `json:"added,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

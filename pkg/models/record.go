package models

import "encoding/json"

// Record is a versioned unit of persisted state. The identifier is
// immutable once assigned and Version increases by exactly one on every
// committed mutation. Timestamps are UTC nanoseconds.
type Record struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

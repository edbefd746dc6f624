package models

import (
	"encoding/json"
	"time"
)

// RecordStatus enumerates async request lifecycle states persisted in the store.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s RecordStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AsyncRequestRecord is the unit of idempotency, keyed by (UserKey, RequestID).
// CreatedAt is set once at first write and never changes; Data is present only
// on terminal records.
type AsyncRequestRecord struct {
	UserKey   string          `json:"user_key"`
	RequestID string          `json:"request_id"`
	Status    RecordStatus    `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

package store

import (
	"context"
	"encoding/json"

	"mtd-vat-service/internal/models"
)

// Store persists async request records keyed by (userKey, requestId).
// Implementations must be safe for concurrent use: all contention between
// handler and worker instances is resolved by Put's atomic create-or-merge
// semantics, never by locking in callers.
type Store interface {
	// Get returns the record, or (nil, nil) when absent or expired.
	Get(ctx context.Context, userKey, requestID string) (*models.AsyncRequestRecord, error)

	// Put upserts the record in a single atomic write. An existing created_at
	// is preserved (first writer wins); status, updated_at, and data are
	// overwritten, except that a terminal record never regresses to a
	// non-terminal status. A nil data removes any stored payload rather than
	// writing a null value.
	Put(ctx context.Context, userKey, requestID string, status models.RecordStatus, data json.RawMessage) error
}

package store

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"mtd-vat-service/internal/models"
)

// BestEffort wraps a Store for bookkeeping writes made after a side effect
// has already happened. A failed write here is logged and swallowed: the
// real-world action cannot be rolled back, and failing the response would be
// worse than a gap in the record. The initial pending claim must never go
// through this wrapper.
type BestEffort struct {
	store Store
	log   *zap.Logger
}

func NewBestEffort(s Store, log *zap.Logger) *BestEffort {
	return &BestEffort{store: s, log: log}
}

// Put attempts the upsert and reports the result only to the log.
func (b *BestEffort) Put(ctx context.Context, rc models.RequestContext, status models.RecordStatus, data json.RawMessage) {
	if err := b.store.Put(ctx, rc.UserKey, rc.RequestID, status, data); err != nil {
		b.log.Error("best-effort record write failed",
			append(rc.Fields(), zap.String("status", string(status)), zap.Error(err))...)
	}
}

package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mtd-vat-service/internal/models"
)

type recordKey struct {
	userKey   string
	requestID string
}

// Memory is an in-process Store with the same conditional-upsert semantics as
// the Postgres implementation. It backs tests and single-process setups.
type Memory struct {
	mu      sync.Mutex
	records map[recordKey]models.AsyncRequestRecord
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		records: make(map[recordKey]models.AsyncRequestRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) Get(_ context.Context, userKey, requestID string) (*models.AsyncRequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{userKey, requestID}]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.IsZero() && !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	out := rec
	if rec.Data != nil {
		out.Data = append(json.RawMessage(nil), rec.Data...)
	}
	return &out, nil
}

func (s *Memory) Put(_ context.Context, userKey, requestID string, status models.RecordStatus, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := recordKey{userKey, requestID}
	existing, ok := s.records[key]
	if ok && existing.Status.Terminal() && !status.Terminal() {
		// No terminal -> non-terminal regression.
		return nil
	}

	rec := models.AsyncRequestRecord{
		UserKey:   userKey,
		RequestID: requestID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	if data != nil {
		rec.Data = append(json.RawMessage(nil), data...)
	}
	s.records[key] = rec
	return nil
}

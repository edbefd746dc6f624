package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"mtd-vat-service/internal/models"
)

func TestPutPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	if err := s.Put(ctx, "user", "req", models.StatusPending, nil); err != nil {
		t.Fatalf("put pending: %v", err)
	}

	now = base.Add(10 * time.Second)
	data := json.RawMessage(`{"status":"granted"}`)
	if err := s.Put(ctx, "user", "req", models.StatusCompleted, data); err != nil {
		t.Fatalf("put completed: %v", err)
	}

	rec, err := s.Get(ctx, "user", "req")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if !rec.CreatedAt.Equal(base) {
		t.Fatalf("created_at changed: want %s got %s", base, rec.CreatedAt)
	}
	if !rec.UpdatedAt.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("updated_at not advanced: %s", rec.UpdatedAt)
	}
}

func TestConcurrentFirstWritersConvergeOnOneCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, "user", "req", models.StatusPending, nil)
		}()
	}
	wg.Wait()

	first, err := s.Get(ctx, "user", "req")
	if err != nil || first == nil {
		t.Fatalf("get after race: rec=%v err=%v", first, err)
	}
	// A later write must still see the surviving created_at.
	if err := s.Put(ctx, "user", "req", models.StatusCompleted, json.RawMessage(`{"status":"granted"}`)); err != nil {
		t.Fatalf("terminal put: %v", err)
	}
	after, _ := s.Get(ctx, "user", "req")
	if !after.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at forked: %s vs %s", first.CreatedAt, after.CreatedAt)
	}
}

func TestTerminalNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	data := json.RawMessage(`{"status":"granted"}`)
	if err := s.Put(ctx, "user", "req", models.StatusCompleted, data); err != nil {
		t.Fatalf("put completed: %v", err)
	}
	if err := s.Put(ctx, "user", "req", models.StatusProcessing, nil); err != nil {
		t.Fatalf("put processing: %v", err)
	}

	rec, _ := s.Get(ctx, "user", "req")
	if rec.Status != models.StatusCompleted {
		t.Fatalf("terminal record regressed to %s", rec.Status)
	}
	if rec.Data == nil {
		t.Fatal("terminal data lost on blocked regression")
	}
}

func TestNilDataRemovesStoredPayload(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	if err := s.Put(ctx, "user", "req", models.StatusFailed, json.RawMessage(`{"status":"cap_reached"}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.Put(ctx, "user", "req", models.StatusCompleted, nil); err != nil {
		t.Fatalf("put without data: %v", err)
	}

	rec, _ := s.Get(ctx, "user", "req")
	if rec.Data != nil {
		t.Fatalf("data attribute should be removed, got %s", rec.Data)
	}
}

func TestExpiredRecordReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Minute)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	if err := s.Put(ctx, "user", "req", models.StatusPending, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	now = base.Add(30 * time.Second)
	if rec, _ := s.Get(ctx, "user", "req"); rec == nil {
		t.Fatal("record expired too early")
	}

	now = base.Add(2 * time.Minute)
	if rec, _ := s.Get(ctx, "user", "req"); rec != nil {
		t.Fatalf("expected expired record to read as absent, got %+v", rec)
	}
}

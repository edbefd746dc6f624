package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mtd-vat-service/internal/models"
)

func newTestQueue(t *testing.T, maxDeliveries int) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, 30*time.Second, maxDeliveries)
}

func testPayload() models.JobPayload {
	return models.JobPayload{
		UserKey:       "user-key",
		RequestID:     "req-1",
		TraceID:       "trace-1",
		CorrelationID: "corr-1",
		Operation:     "bundle:grant",
		Args:          json.RawMessage(`{"bundleId":"test"}`),
	}
}

func TestDispatchLeaseAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 3)

	if err := q.Dispatch(ctx, testPayload()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	d, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if d == nil {
		t.Fatal("expected a delivery")
	}
	if d.Delivery != 1 {
		t.Fatalf("first delivery numbered %d", d.Delivery)
	}
	if d.Payload.Operation != "bundle:grant" || d.Payload.RequestID != "req-1" {
		t.Fatalf("payload mangled: %+v", d.Payload)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if d2, _ := q.Lease(ctx); d2 != nil {
		t.Fatalf("acked message re-leased: %+v", d2)
	}
}

func TestNackSchedulesRedeliveryWithIncrementedCount(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 3)

	_ = q.Dispatch(ctx, testPayload())
	d, _ := q.Lease(ctx)
	dead, err := q.Nack(ctx, d, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("nack: %v", err)
	}
	if dead {
		t.Fatal("dead-lettered before delivery budget spent")
	}

	// Not yet due.
	if d2, _ := q.Lease(ctx); d2 != nil {
		t.Fatalf("scheduled message leased early: %+v", d2)
	}

	if _, err := q.PromoteDue(ctx, time.Now().Add(time.Second), 10); err != nil {
		t.Fatalf("promote due: %v", err)
	}
	d2, _ := q.Lease(ctx)
	if d2 == nil {
		t.Fatal("expected redelivery after promotion")
	}
	if d2.Delivery != 2 {
		t.Fatalf("redelivery numbered %d", d2.Delivery)
	}
}

func TestDeadLetterAfterDeliveryBudget(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2)

	_ = q.Dispatch(ctx, testPayload())

	d, _ := q.Lease(ctx)
	if dead, _ := q.Nack(ctx, d, 0); dead {
		t.Fatal("dead-lettered on first delivery")
	}
	_, _ = q.PromoteDue(ctx, time.Now().Add(time.Second), 10)

	d, _ = q.Lease(ctx)
	if d == nil {
		t.Fatal("expected second delivery")
	}
	dead, err := q.Nack(ctx, d, 0)
	if err != nil {
		t.Fatalf("final nack: %v", err)
	}
	if !dead {
		t.Fatal("expected dead-letter at the delivery cap")
	}

	items, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(items) != 1 || items[0].RequestID != "req-1" {
		t.Fatalf("dlq contents wrong: %+v", items)
	}

	_, _ = q.PromoteDue(ctx, time.Now().Add(time.Minute), 10)
	if d, _ := q.Lease(ctx); d != nil {
		t.Fatalf("dead-lettered message still circulating: %+v", d)
	}
}

func TestRequeueExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 3)

	_ = q.Dispatch(ctx, testPayload())
	d, _ := q.Lease(ctx)
	if d == nil {
		t.Fatal("expected delivery")
	}

	// Simulate the worker dying: the lease passes its visibility deadline.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one reclaimed lease, got %d", len(ids))
	}

	d2, _ := q.Lease(ctx)
	if d2 == nil {
		t.Fatal("expected redelivery of the reclaimed message")
	}
	if d2.Delivery != 2 {
		t.Fatalf("reclaimed delivery numbered %d", d2.Delivery)
	}
}

func TestReadyDepth(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 3)

	for i := 0; i < 3; i++ {
		_ = q.Dispatch(ctx, testPayload())
	}
	depth, err := q.ReadyDepth(ctx)
	if err != nil {
		t.Fatalf("ready depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("want depth 3 got %d", depth)
	}
}

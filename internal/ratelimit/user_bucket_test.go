package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testBucket(t *testing.T, capacity int, refill float64) *UserBucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewUserBucket(client, capacity, refill, time.Minute)
}

func TestAllowConsumesTokens(t *testing.T) {
	b := testBucket(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := b.Allow(ctx, "u1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d rejected under capacity", i)
		}
	}

	allowed, tokens, err := b.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow over capacity: %v", err)
	}
	if allowed {
		t.Fatal("request allowed past capacity")
	}
	if tokens >= 1 {
		t.Fatalf("tokens not exhausted: %v", tokens)
	}
}

func TestBucketsAreIndependentPerUser(t *testing.T) {
	b := testBucket(t, 1, 0)
	ctx := context.Background()

	if allowed, _, _ := b.Allow(ctx, "u1"); !allowed {
		t.Fatal("first user rejected")
	}
	if allowed, _, _ := b.Allow(ctx, "u1"); allowed {
		t.Fatal("first user not exhausted")
	}
	if allowed, _, _ := b.Allow(ctx, "u2"); !allowed {
		t.Fatal("second user throttled by first user's bucket")
	}
}

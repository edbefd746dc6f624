package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/models"
)

const (
	readyKey      = "dispatch:ready"
	inflightKey   = "dispatch:inflight"
	scheduledKey  = "dispatch:scheduled"
	dlqKey        = "dispatch:dlq"
	messagePrefix = "dispatch:msg:"
)

// Dispatcher is the producer half of the transport channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload models.JobPayload) error
}

// Delivery is one leased message. Delivery numbering starts at 1.
type Delivery struct {
	MessageID string
	Payload   models.JobPayload
	Delivery  int

	raw string
}

// RedisQueue carries job payloads with at-least-once delivery: leased
// messages get a visibility deadline, expired leases are requeued, and a
// message that exhausts its delivery budget lands on the DLQ.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
	maxDeliveries int
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.VisibilityTimeout, cfg.MaxDeliveries)
}

// NewRedisQueueWithClient wires an existing client; tests use it with miniredis.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration, maxDeliveries int) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	return &RedisQueue{
		client:        client,
		visibilityTTL: visibility,
		maxDeliveries: maxDeliveries,
	}
}

func messageKey(id string) string {
	return messagePrefix + id
}

// Dispatch appends a payload message to the ready queue.
func (q *RedisQueue) Dispatch(ctx context.Context, payload models.JobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, messageKey(id), "payload", body, "deliveries", 0)
	pipe.RPush(ctx, readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue dispatch message: %w", err)
	}
	return nil
}

// Lease pops one ready message and places it in-flight with a visibility
// deadline. Returns nil when the queue is empty.
func (q *RedisQueue) Lease(ctx context.Context) (*Delivery, error) {
	res, err := leaseScript.Run(ctx, q.client, []string{readyKey, inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from lease script: %T", res)
	}

	deliveries, err := q.client.HIncrBy(ctx, messageKey(id), "deliveries", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("count delivery: %w", err)
	}
	raw, err := q.client.HGet(ctx, messageKey(id), "payload").Result()
	if err != nil {
		return nil, fmt.Errorf("read message payload: %w", err)
	}
	var payload models.JobPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	return &Delivery{MessageID: id, Payload: payload, Delivery: int(deliveries), raw: raw}, nil
}

// Ack removes a processed message entirely.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, d.MessageID)
	pipe.Del(ctx, messageKey(d.MessageID))
	_, err := pipe.Exec(ctx)
	return err
}

// Nack schedules a redelivery after delay, or dead-letters the message when
// its delivery budget is spent. Returns true when the message was dead-lettered.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) (bool, error) {
	if d.Delivery >= q.maxDeliveries {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, inflightKey, d.MessageID)
		pipe.RPush(ctx, dlqKey, d.raw)
		pipe.Del(ctx, messageKey(d.MessageID))
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, d.MessageID)
	pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: d.MessageID})
	_, err := pipe.Exec(ctx)
	return false, err
}

// PromoteDue moves due scheduled redeliveries back into the ready queue.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases whose visibility deadline passed.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPeek reads the oldest dead-lettered payloads for operator inspection.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]models.JobPayload, error) {
	raws, err := q.client.LRange(ctx, dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.JobPayload, 0, len(raws))
	for _, raw := range raws {
		var p models.JobPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ReadyDepth returns the ready queue length.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var leaseScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using a Redis list under key <prefix>queue.
// Values are gob-encoded Task structs. Delayed tasks wait in a sorted set
// <prefix>queue:delayed scored by NotBefore and are moved to the list once
// due.
type RedisQueue struct {
	client     redis.UniversalClient
	key        string
	delayedKey string

	// blockFor bounds each BRPOP so delayed tasks are promoted regularly.
	blockFor time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue. An empty prefix selects
// "taskgraph:".
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "taskgraph:"
	}
	return &RedisQueue{
		client:     client,
		key:        prefix + "queue",
		delayedKey: prefix + "queue:delayed",
		blockFor:   time.Second,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a due task onto the list (LPUSH) and parks a delayed one
// in the sorted set.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	if t.NotBefore.After(time.Now()) {
		return q.client.ZAdd(ctx, q.delayedKey, redis.Z{
			Score:  float64(t.NotBefore.UnixMilli()),
			Member: data,
		}).Err()
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, q.blockFor, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("taskqueue: unexpected BRPOP reply %q", res)
		}

		t, err := DecodeTask([]byte(res[1]))
		if err != nil {
			return nil, err
		}
		t.Attempts++
		return t, nil
	}
}

// promoteDue moves delayed tasks whose time has come onto the list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(time.Now().UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		// Only the caller that removes the member pushes it.
		removed, err := q.client.ZRem(ctx, q.delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the approximate number of tasks queued, delayed included.
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		slog.Warn("redis queue length", "error", err)
		return 0
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		slog.Warn("redis queue length", "error", err)
		return int(n)
	}
	return int(n + delayed)
}

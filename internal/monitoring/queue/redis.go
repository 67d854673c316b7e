package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	scheduleKey  = "queue:schedule"
	jobKeyPrefix = "queue:job:"
	idemHashKey  = "queue:idempotency"
)

// payload is what's stored in the per-job hash; RunAt lives separately as
// the sorted-set score so Due can range-query without deserializing it.
type payload struct {
	Kind           string `json:"kind"`
	Argument       string `json:"argument"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RedisQueue is the production Adapter, backed by a sorted set (schedule,
// scored by run-time unix seconds), a hash of job payloads, and a hash
// mapping idempotency keys to their current job id for debounce.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind, argument string, deferBy time.Duration, idempotencyKey string) error {
	runAt := time.Now().Add(deferBy)

	if idempotencyKey != "" {
		existingID, err := q.client.HGet(ctx, idemHashKey, idempotencyKey).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("queue: lookup idempotency key: %w", err)
		}
		if err == nil && existingID != "" {
			return q.reschedule(ctx, existingID, runAt)
		}
	}

	jobID := uuid.NewString()
	p := payload{Kind: kind, Argument: argument, IdempotencyKey: idempotencyKey}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+jobID, body, 0)
	pipe.ZAdd(ctx, scheduleKey, &redis.Z{Score: float64(runAt.Unix()), Member: jobID})
	if idempotencyKey != "" {
		pipe.HSet(ctx, idemHashKey, idempotencyKey, jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	return nil
}

// reschedule replaces an existing job's run time without touching its
// payload, implementing the debounce: later events in the same session
// window push the aggregation run further out rather than scheduling a
// second one.
func (q *RedisQueue) reschedule(ctx context.Context, jobID string, runAt time.Time) error {
	exists, err := q.client.Exists(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		return fmt.Errorf("queue: check existing job %s: %w", jobID, err)
	}
	if exists == 0 {
		// The job already ran and its idempotency mapping is stale; fall
		// through and let the caller's next Enqueue recreate it.
		return nil
	}
	if err := q.client.ZAdd(ctx, scheduleKey, &redis.Z{Score: float64(runAt.Unix()), Member: jobID}).Err(); err != nil {
		return fmt.Errorf("queue: reschedule %s: %w", jobID, err)
	}
	return nil
}

// HealthCheck pings the backing Redis connection.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: range due jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		body, err := q.client.Get(ctx, jobKeyPrefix+id).Result()
		if err == redis.Nil {
			// Payload already gone (acked elsewhere); drop the orphan
			// schedule entry and move on.
			q.client.ZRem(ctx, scheduleKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: load job %s: %w", id, err)
		}
		var p payload
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("queue: decode job %s: %w", id, err)
		}

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, scheduleKey, id)
		pipe.Del(ctx, jobKeyPrefix+id)
		if p.IdempotencyKey != "" {
			pipe.HDel(ctx, idemHashKey, p.IdempotencyKey)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("queue: claim job %s: %w", id, err)
		}

		jobs = append(jobs, Job{
			ID:             id,
			Kind:           p.Kind,
			Argument:       p.Argument,
			IdempotencyKey: p.IdempotencyKey,
		})
	}
	return jobs, nil
}

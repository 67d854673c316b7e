package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type scheduledJob struct {
	job   Job
	runAt time.Time
}

// MemoryQueue is a process-local Adapter used in tests and as a degraded
// fallback; it implements the same debounce semantics as RedisQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]scheduledJob
	byIdemp map[string]string
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: map[string]scheduledJob{}, byIdemp: map[string]string{}}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind, argument string, deferBy time.Duration, idempotencyKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	runAt := time.Now().Add(deferBy)

	if idempotencyKey != "" {
		if existingID, ok := q.byIdemp[idempotencyKey]; ok {
			if sj, ok := q.jobs[existingID]; ok {
				sj.runAt = runAt
				q.jobs[existingID] = sj
				return nil
			}
			delete(q.byIdemp, idempotencyKey)
		}
	}

	id := uuid.NewString()
	j := Job{ID: id, Kind: kind, Argument: argument, RunAt: runAt, IdempotencyKey: idempotencyKey}
	q.jobs[id] = scheduledJob{job: j, runAt: runAt}
	if idempotencyKey != "" {
		q.byIdemp[idempotencyKey] = id
	}
	return nil
}

func (q *MemoryQueue) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Job
	for id, sj := range q.jobs {
		if len(due) >= limit {
			break
		}
		if sj.runAt.After(now) {
			continue
		}
		due = append(due, sj.job)
		delete(q.jobs, id)
		if sj.job.IdempotencyKey != "" {
			delete(q.byIdemp, sj.job.IdempotencyKey)
		}
	}
	return due, nil
}

// HealthCheck always succeeds; the in-memory queue has no external
// dependency to probe.
func (q *MemoryQueue) HealthCheck(ctx context.Context) error {
	return nil
}

// Pending reports how many jobs are currently scheduled; used by tests.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Package queue implements the delayed-job scheduling capability the
// Session Aggregator runs on: a Redis sorted set keyed by run time, with
// idempotency-key debounce so repeated submissions for the same session
// only ever push the run time forward rather than stacking up duplicate
// jobs. Grounded on recorder.py's
// queue_manager.enqueue(..., _defer_by=..., _job_key=...).
package queue

import (
	"context"
	"time"
)

// Job is a scheduled unit of work popped once its RunAt has elapsed.
type Job struct {
	ID             string
	Kind           string
	Argument       string
	RunAt          time.Time
	IdempotencyKey string
}

// Adapter is the generic delayed-queue capability. Enqueue implements the
// activity.Queue contract directly; Due/Ack let a worker loop drain it.
type Adapter interface {
	// Enqueue schedules kind(argument) to run after deferBy. If
	// idempotencyKey names an existing, still-pending job, that job's run
	// time is replaced rather than a duplicate being created.
	Enqueue(ctx context.Context, kind, argument string, deferBy time.Duration, idempotencyKey string) error

	// Due returns up to limit jobs whose run time has elapsed, removing
	// them from the pending set (the caller is responsible for running
	// them; a job that fails is the caller's to retry or drop).
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// HealthCheck reports whether the backing store is reachable, used by
	// the health probe (C8) as the "queue" component.
	HealthCheck(ctx context.Context) error
}

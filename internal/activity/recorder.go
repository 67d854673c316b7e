package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// AggregateSessionJobKind is the queue job kind the Recorder schedules and
// the Aggregator's worker loop consumes.
const AggregateSessionJobKind = "aggregate_session"

// Recorder implements C1: filters events by category policy, persists them
// as RawEvents keyed by session fingerprint, and schedules deferred
// aggregation.
type Recorder struct {
	store         Store
	queue         Queue
	policy        *Policy
	log           *logrus.Logger
	sessionWindow time.Duration
	categoryOK    func(category string) bool
}

// NewRecorder constructs a Recorder. categoryEnabled reports whether a
// resolved category should be recorded; pass config.Config.CategoryEnabled.
func NewRecorder(store Store, queue Queue, policy *Policy, log *logrus.Logger, sessionWindow time.Duration, categoryEnabled func(string) bool) *Recorder {
	return &Recorder{
		store:         store,
		queue:         queue,
		policy:        policy,
		log:           log,
		sessionWindow: sessionWindow,
		categoryOK:    categoryEnabled,
	}
}

// Record filters, persists, and schedules one domain event. It is invoked
// inside the caller's own domain-write transaction (the Store implementation
// is expected to participate in an ambient transaction via context); it
// fails only by propagating storage errors.
func (r *Recorder) Record(ctx context.Context, actorID, projectID, kind, targetID, targetKind string, detail json.RawMessage) error {
	category, known := r.policy.Category(kind)
	if known && !r.categoryOK(category) {
		r.log.WithFields(logrus.Fields{"kind": kind, "category": category}).Debug("activity: event dropped by category policy")
		return nil
	}

	if targetKind == "" {
		targetKind = inferTargetKind(kind)
	}

	now := time.Now().UTC()
	sf := SessionFingerprint(actorID, projectID, now.Unix(), int64(r.sessionWindow.Seconds()))

	ev := RawEvent{
		SessionFingerprint: sf,
		ProjectID:          projectID,
		ActorID:            actorID,
		Kind:               kind,
		TargetID:           targetID,
		TargetKind:         targetKind,
		Detail:             detail,
		CreatedAt:          now,
	}

	if err := r.store.InsertRawEvent(ctx, ev); err != nil {
		return fmt.Errorf("activity: insert raw event: %w", err)
	}

	// Enqueued after the row is persisted: a rolled-back event never leaves
	// a dangling job, at the acceptable cost of a harmless no-op firing.
	idempotencyKey := fmt.Sprintf("%s:%s", AggregateSessionJobKind, sf)
	if err := r.queue.Enqueue(ctx, AggregateSessionJobKind, sf, r.sessionWindow, idempotencyKey); err != nil {
		return fmt.Errorf("activity: enqueue aggregation: %w", err)
	}

	return nil
}

// inferTargetKind derives target_kind from the kind prefix for older event
// producers that omit it.
func inferTargetKind(kind string) string {
	prefix, _, found := cutPrefix(kind)
	if !found {
		return ""
	}
	switch prefix {
	case "element":
		return "element"
	case "folder":
		return "folder"
	default:
		return prefix
	}
}

func cutPrefix(kind string) (prefix, rest string, found bool) {
	for i := 0; i < len(kind); i++ {
		if kind[i] == '.' {
			return kind[:i], kind[i+1:], true
		}
	}
	return kind, "", false
}

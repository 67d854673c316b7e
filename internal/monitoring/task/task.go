// Package task implements C7: instrumentation around background task
// callables, grounded on original_source/monitoring/arq_monitoring.py's
// monitored_task decorator. It records per-task success/failure counters
// and execution-time history in the shared KV, feeds the "last job
// completed" watermark C8 uses for queue-stuck detection, and reports slow
// or failing tasks through the Notifier with hourly dedup.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
)

const (
	maxExecutionTimeHistory = 100
	statsTTL                = 7 * 24 * time.Hour
	lastSuccessTTL          = time.Hour
	lastFailureTTL          = 24 * time.Hour
	slowDedupTTL            = time.Hour
	failureCountTTL         = time.Hour
	maxFailureMessageLen    = 200
	criticalFailureCount    = 3
)

// Config controls one Instrumentor's behavior.
type Config struct {
	// SlowThreshold is the elapsed-time cutoff above which a successful run
	// is reported as slow (first occurrence per hour only).
	SlowThreshold time.Duration
	// Enabled mirrors monitoring_config.MONITOR_ARQ_TASKS; when false, Run
	// executes fn with no bookkeeping at all.
	Enabled bool
}

// Instrumentor wraps named task callables with the bookkeeping in spec
// §4.7. One Instrumentor is shared by every task invocation; the task name
// is passed per call so a single instance can monitor a whole registry.
type Instrumentor struct {
	kv       kv.Adapter
	notifier *notifier.Notifier
	log      *logging.Logger
	cfg      Config
	// markJobCompleted records the "last job completed" watermark this
	// task's success updates, skipped for health/report workers so they
	// don't mask a genuinely stuck queue with their own heartbeat.
	watermarkKey string
}

// New constructs an Instrumentor. watermarkKey is the KV key success runs
// refresh (spec's queue:last_job_completed); pass "" to suppress it (used
// by the health/report worker's own invocations).
func New(adapter kv.Adapter, n *notifier.Notifier, log *logging.Logger, cfg Config, watermarkKey string) *Instrumentor {
	return &Instrumentor{kv: adapter, notifier: n, log: log, cfg: cfg, watermarkKey: watermarkKey}
}

// Run executes fn under instrumentation for the named task. The error fn
// returns is always propagated to the caller unchanged, after bookkeeping.
func (in *Instrumentor) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !in.cfg.Enabled {
		return fn(ctx)
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		in.recordFailure(ctx, name, err)
		in.reportFailure(ctx, name, err)
		in.log.Error(ctx, "task failed", err, map[string]interface{}{"task": name, "elapsed_seconds": elapsed.Seconds()})
		return err
	}

	in.recordSuccess(ctx, name, elapsed)
	if elapsed > in.cfg.SlowThreshold {
		in.reportSlow(ctx, name, elapsed)
	}
	if in.watermarkKey != "" {
		_ = in.kv.Set(ctx, in.watermarkKey, fmt.Sprintf("%d", time.Now().Unix()), time.Hour)
	}
	in.log.Info(ctx, "task completed", map[string]interface{}{"task": name, "elapsed_seconds": elapsed.Seconds()})
	return nil
}

func statsKey(parts ...string) string {
	key := "monitoring:stats:" + time.Now().UTC().Format("2006-01-02")
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (in *Instrumentor) recordSuccess(ctx context.Context, name string, elapsed time.Duration) {
	successKey := statsKey("tasks", "success", name)
	if _, err := in.kv.Incr(ctx, successKey); err != nil {
		in.log.Warn(ctx, "failed to record task success", map[string]interface{}{"task": name, "error": err.Error()})
		return
	}
	_ = in.kv.Expire(ctx, successKey, statsTTL)

	timeKey := statsKey("tasks", "time", name)
	_ = in.kv.LPush(ctx, timeKey, fmt.Sprintf("%.6f", elapsed.Seconds()))
	_ = in.kv.LTrim(ctx, timeKey, maxExecutionTimeHistory)
	_ = in.kv.Expire(ctx, timeKey, statsTTL)

	lastSuccessKey := fmt.Sprintf("monitoring:tasks:last_success:%s", name)
	_ = in.kv.Set(ctx, lastSuccessKey, fmt.Sprintf("%d", time.Now().Unix()), lastSuccessTTL)
}

// failureInfo is the JSON value stored at tasks:last_failure:<name>.
type failureInfo struct {
	Time  int64  `json:"time"`
	Error string `json:"error"`
	Class string `json:"class"`
}

func (in *Instrumentor) recordFailure(ctx context.Context, name string, err error) {
	failureKey := statsKey("tasks", "failure", name)
	if _, kvErr := in.kv.Incr(ctx, failureKey); kvErr != nil {
		in.log.Warn(ctx, "failed to record task failure", map[string]interface{}{"task": name, "error": kvErr.Error()})
	}
	_ = in.kv.Expire(ctx, failureKey, statsTTL)

	errClass := fmt.Sprintf("%T", err)
	errClassKey := statsKey("tasks", "errors", errClass)
	_, _ = in.kv.Incr(ctx, errClassKey)
	_ = in.kv.Expire(ctx, errClassKey, statsTTL)

	msg := err.Error()
	if len(msg) > maxFailureMessageLen {
		msg = msg[:maxFailureMessageLen]
	}
	info := failureInfo{Time: time.Now().Unix(), Error: msg, Class: errClass}
	body, _ := json.Marshal(info)
	lastFailureKey := fmt.Sprintf("monitoring:tasks:last_failure:%s", name)
	_ = in.kv.Set(ctx, lastFailureKey, string(body), lastFailureTTL)
}

func (in *Instrumentor) reportFailure(ctx context.Context, name string, err error) {
	if in.notifier == nil {
		return
	}
	failureCountKey := fmt.Sprintf("monitoring:tasks:failure_count:%s", name)
	count, kvErr := in.kv.Incr(ctx, failureCountKey)
	if kvErr != nil {
		count = 1
	}
	_ = in.kv.Expire(ctx, failureCountKey, failureCountTTL)

	level := notifier.LevelWarning
	if count > criticalFailureCount {
		level = notifier.LevelCritical
	}

	details := map[string]string{"Task": name}
	if count > 1 {
		details["Failure Count"] = fmt.Sprintf("%d in last hour", count)
	}

	in.notifier.SendAlert(ctx, notifier.Alert{
		Title:     "Background Task Failed",
		Message:   fmt.Sprintf("Task '%s' failed to execute", name),
		Level:     level,
		Details:   details,
		ErrorType: fmt.Sprintf("%T", err),
		ErrorText: err.Error(),
	})
}

func (in *Instrumentor) reportSlow(ctx context.Context, name string, elapsed time.Duration) {
	if in.notifier == nil {
		return
	}
	slowKey := fmt.Sprintf("monitoring:tasks:slow:%s", name)
	first, err := in.kv.SetNX(ctx, slowKey, "1", slowDedupTTL)
	if err != nil || !first {
		return
	}

	in.notifier.SendAlert(ctx, notifier.Alert{
		Title:   "Slow Background Task",
		Message: fmt.Sprintf("Task '%s' took %.1fs to execute", name, elapsed.Seconds()),
		Level:   notifier.LevelWarning,
		Details: map[string]string{
			"Task":           name,
			"Execution Time": fmt.Sprintf("%.2f seconds", elapsed.Seconds()),
			"Threshold":      fmt.Sprintf("%v", in.cfg.SlowThreshold),
		},
	})
}

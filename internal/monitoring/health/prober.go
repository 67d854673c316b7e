// Package health implements C8: periodic health probing across the
// database/KV/queue adapters plus the once-daily statistics digest,
// grounded on original_source/monitoring/tasks.py's check_system_health
// and send_daily_report.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
	"github.com/flowlane/pulsefeed/internal/monitoring/queue"
)

// QueueLastJobCompletedKey is the watermark C7 refreshes on every successful
// task run and this package reads to detect a stuck queue.
const QueueLastJobCompletedKey = "monitoring:queue:last_job_completed"

const (
	snapshotKey  = "monitoring:health:current"
	historyKey   = "monitoring:health:history"
	snapshotTTL  = time.Hour
	maxHistory   = 100
	startupDedup = "monitoring:health:startup_notice"
)

// Config controls probe timeouts and thresholds, mirroring spec §4.8 and §6.
type Config struct {
	DBTimeout           time.Duration
	KVTimeout           time.Duration
	QueueStuckThreshold time.Duration
}

// DefaultConfig returns the spec's stated defaults (5s DB, 3s KV).
func DefaultConfig() Config {
	return Config{
		DBTimeout:           5 * time.Second,
		KVTimeout:           3 * time.Second,
		QueueStuckThreshold: 10 * time.Minute,
	}
}

// Prober implements the periodic health probe.
type Prober struct {
	db       DatabaseAdapter
	kv       kv.Adapter
	queue    queue.Adapter
	notifier *notifier.Notifier
	log      *logging.Logger
	cfg      Config
}

// NewProber constructs a Prober. db may be NullDatabaseAdapter{}.
func NewProber(db DatabaseAdapter, kvAdapter kv.Adapter, queueAdapter queue.Adapter, n *notifier.Notifier, log *logging.Logger, cfg Config) *Prober {
	return &Prober{db: db, kv: kvAdapter, queue: queueAdapter, notifier: n, log: log, cfg: cfg}
}

// Run executes one health-check cycle: probe every component, persist the
// snapshot, and alert if anything is unhealthy.
func (p *Prober) Run(ctx context.Context) {
	components := map[string]bool{}
	var errs []string

	components["Database"], errs = p.probe(ctx, "Database", p.cfg.DBTimeout, p.db.HealthCheck, errs)
	components["KV"], errs = p.probe(ctx, "KV", p.cfg.KVTimeout, p.kv.HealthCheck, errs)
	components["Queue"], errs = p.probeQueue(ctx, errs)
	components["Process"] = true

	snap := newSnapshot(components, errs)
	snap.Process = p.sampleProcess(ctx)

	if !snap.Healthy {
		p.log.Warn(ctx, "health check failed", map[string]interface{}{"errors": errs})
		if p.notifier != nil {
			details := map[string]string{}
			for name, ok := range components {
				details[name] = strconv.FormatBool(ok)
			}
			p.notifier.SendAlert(ctx, notifier.Alert{
				Title:   "Health Check Failed",
				Message: strings.Join(errs, "; "),
				Level:   notifier.LevelCritical,
				Details: details,
			})
		}
	} else {
		p.log.Info(ctx, "health check passed", nil)
	}

	p.store(ctx, snap)
}

func (p *Prober) probe(ctx context.Context, name string, timeout time.Duration, check func(context.Context) error, errs []string) (bool, []string) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := check(probeCtx); err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			errs = append(errs, fmt.Sprintf("%s timeout (>%s)", name, timeout))
		} else {
			msg := err.Error()
			if len(msg) > 100 {
				msg = msg[:100]
			}
			errs = append(errs, fmt.Sprintf("%s error: %s", name, msg))
		}
		return false, errs
	}
	return true, errs
}

func (p *Prober) probeQueue(ctx context.Context, errs []string) (bool, []string) {
	healthy, errs := p.probe(ctx, "Queue", p.cfg.DBTimeout, p.queue.HealthCheck, errs)
	if !healthy {
		return false, errs
	}

	raw, ok, err := p.kv.Get(ctx, QueueLastJobCompletedKey)
	if err != nil || !ok {
		return true, errs
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true, errs
	}
	last := time.Unix(ts, 0)
	if age := time.Since(last); age > p.cfg.QueueStuckThreshold {
		errs = append(errs, fmt.Sprintf("Queue stuck: no jobs in %.0f minutes", age.Minutes()))
		return false, errs
	}
	return true, errs
}

// sampleProcess reads this process's CPU/memory share plus root filesystem
// usage. It never returns an error upward: a sampling failure just leaves
// the digest without resource context for one cycle.
func (p *Prober) sampleProcess(ctx context.Context) *ProcessStats {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		p.log.Warn(ctx, "failed to sample process stats", map[string]interface{}{"error": err.Error()})
		return nil
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		p.log.Warn(ctx, "failed to sample process cpu", map[string]interface{}{"error": err.Error()})
	}
	memPct, err := proc.MemoryPercentWithContext(ctx)
	if err != nil {
		p.log.Warn(ctx, "failed to sample process memory", map[string]interface{}{"error": err.Error()})
	}

	var diskPct float64
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		diskPct = usage.UsedPercent
	} else {
		p.log.Warn(ctx, "failed to sample disk usage", map[string]interface{}{"error": err.Error()})
	}

	return &ProcessStats{CPUPercent: cpuPct, MemPercent: memPct, DiskPercent: diskPct}
}

func (p *Prober) store(ctx context.Context, snap Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		p.log.Error(ctx, "failed to marshal health snapshot", err, nil)
		return
	}
	if err := p.kv.Set(ctx, snapshotKey, string(body), snapshotTTL); err != nil {
		p.log.Error(ctx, "failed to store health snapshot", err, nil)
	}
	if err := p.kv.LPush(ctx, historyKey, string(body)); err != nil {
		p.log.Error(ctx, "failed to push health history", err, nil)
		return
	}
	_ = p.kv.LTrim(ctx, historyKey, maxHistory)
}

// StartupNotice emits a once-per-process, muted INFO message announcing
// process start, guarded by a short dedup key so that parallel workers
// starting at once don't all send it. Only fires in production, per spec.
func (p *Prober) StartupNotice(ctx context.Context, env string, version string, dedupWindow time.Duration) {
	if !strings.EqualFold(env, "production") {
		return
	}
	first, err := p.kv.SetNX(ctx, startupDedup, "1", dedupWindow)
	if err != nil || !first {
		return
	}
	if p.notifier == nil {
		return
	}
	p.notifier.SendMessage(ctx, fmt.Sprintf("ℹ️ Service started (%s)", version), true)
}

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
)

// Reporter builds and delivers the once-per-day statistics digest, grounded
// on original_source/monitoring/tasks.py's send_daily_report/
// _collect_daily_statistics/_get_error_statistics.
type Reporter struct {
	db       DatabaseAdapter
	kv       kv.Adapter
	notifier *notifier.Notifier
	log      *logging.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(db DatabaseAdapter, kvAdapter kv.Adapter, n *notifier.Notifier, log *logging.Logger) *Reporter {
	return &Reporter{db: db, kv: kvAdapter, notifier: n, log: log}
}

// Stats is the digest payload; fields are omitted from the rendered message
// when the backing adapter yields no data (e.g. NullDatabaseAdapter).
type Stats struct {
	NewUsers        int64
	ActiveUsers     int64
	TotalUsers      int64
	NewProjects     int64
	UpdatedProjects int64
	TotalProjects   int64
	TotalErrors     int64
	ErrorsByType    map[string]int64
	SlowRequests    int64
	Process         *ProcessStats
	HaveUserStats   bool
	HaveErrorStats  bool
	HaveProcessStats bool
}

// Run gathers today's statistics and delivers the digest. Failures are
// reported as a WARNING alert rather than propagated, per spec §4.8.
func (r *Reporter) Run(ctx context.Context) {
	stats, err := r.collect(ctx)
	if err != nil {
		r.log.Error(ctx, "failed to collect daily statistics", err, nil)
		if r.notifier != nil {
			r.notifier.SendAlert(ctx, notifier.Alert{
				Title:     "Daily Report Failed",
				Message:   "Failed to generate daily statistics report",
				Level:     notifier.LevelWarning,
				ErrorType: fmt.Sprintf("%T", err),
				ErrorText: err.Error(),
			})
		}
		return
	}

	if r.notifier == nil {
		return
	}
	text := r.format(stats)
	r.notifier.SendMessage(ctx, text, true)
}

func (r *Reporter) collect(ctx context.Context) (Stats, error) {
	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)

	var stats Stats
	var err error

	if _, isNull := r.db.(NullDatabaseAdapter); !isNull {
		stats.NewUsers, err = r.db.NewUsersCount(ctx, yesterday, now)
		if err != nil {
			return stats, fmt.Errorf("health: new users count: %w", err)
		}
		stats.ActiveUsers, err = r.db.ActiveUsersCount(ctx, yesterday, now)
		if err != nil {
			return stats, fmt.Errorf("health: active users count: %w", err)
		}
		stats.TotalUsers, err = r.db.TotalUsersCount(ctx)
		if err != nil {
			return stats, fmt.Errorf("health: total users count: %w", err)
		}
		stats.NewProjects, err = r.db.NewProjectsCount(ctx, yesterday, now)
		if err != nil {
			return stats, fmt.Errorf("health: new projects count: %w", err)
		}
		stats.UpdatedProjects, err = r.db.UpdatedProjectsCount(ctx, yesterday, now)
		if err != nil {
			return stats, fmt.Errorf("health: updated projects count: %w", err)
		}
		stats.TotalProjects, err = r.db.TotalProjectsCount(ctx)
		if err != nil {
			return stats, fmt.Errorf("health: total projects count: %w", err)
		}
		stats.HaveUserStats = true
	}

	stats.ErrorsByType = map[string]int64{}
	today := now.Format("2006-01-02")

	totalRaw, ok, err := r.kv.Get(ctx, fmt.Sprintf("monitoring:stats:%s:errors:total", today))
	if err == nil && ok {
		if n, parseErr := strconv.ParseInt(totalRaw, 10, 64); parseErr == nil {
			stats.TotalErrors = n
		}
		stats.HaveErrorStats = true
	}

	typeKeys, err := r.kv.Scan(ctx, fmt.Sprintf("monitoring:stats:%s:errors:type:*", today))
	if err == nil {
		for _, key := range typeKeys {
			parts := strings.Split(key, ":")
			errType := parts[len(parts)-1]
			if raw, ok, getErr := r.kv.Get(ctx, key); getErr == nil && ok {
				if n, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
					stats.ErrorsByType[errType] = n
				}
			}
		}
	}

	slowKeys, err := r.kv.Scan(ctx, fmt.Sprintf("monitoring:stats:%s:slow_requests:*", today))
	if err == nil {
		for _, key := range slowKeys {
			if strings.HasSuffix(key, ":times") {
				continue
			}
			if raw, ok, getErr := r.kv.Get(ctx, key); getErr == nil && ok {
				if n, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
					stats.SlowRequests += n
				}
			}
		}
	}

	if raw, ok, getErr := r.kv.Get(ctx, snapshotKey); getErr == nil && ok {
		var snap Snapshot
		if json.Unmarshal([]byte(raw), &snap) == nil && snap.Process != nil {
			stats.Process = snap.Process
			stats.HaveProcessStats = true
		}
	}

	return stats, nil
}

func (r *Reporter) format(s Stats) string {
	lines := []string{
		"📊 *Daily Statistics Report*",
		"",
	}

	if s.HaveUserStats {
		lines = append(lines,
			"*Users:*",
			fmt.Sprintf("• New: %d, Active: %d, Total: %d", s.NewUsers, s.ActiveUsers, s.TotalUsers),
			"",
			"*Projects:*",
			fmt.Sprintf("• Created: %d, Updated: %d, Total: %d", s.NewProjects, s.UpdatedProjects, s.TotalProjects),
			"",
		)
	}

	if s.HaveErrorStats {
		lines = append(lines, fmt.Sprintf("*Errors:* %d total, %d slow requests", s.TotalErrors, s.SlowRequests))
		for errType, count := range s.ErrorsByType {
			lines = append(lines, fmt.Sprintf("• %s: %d", errType, count))
		}
	}

	if s.HaveProcessStats {
		lines = append(lines, "",
			fmt.Sprintf("*Process:* CPU %.1f%%, Mem %.1f%%, Disk %.1f%%", s.Process.CPUPercent, s.Process.MemPercent, s.Process.DiskPercent))
	}

	return strings.Join(lines, "\n")
}

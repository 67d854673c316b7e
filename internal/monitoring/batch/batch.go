// Package batch implements C9: periodic aggregation of slow-request and
// task-warning batches into one low-priority digest, grounded on
// original_source/monitoring/batch_alerts.py's send_batch_alerts.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
)

const (
	maxSamplesPerEndpoint = 3
	maxEndpointsShown     = 5
	maxTasksShown         = 5
	allItems              = math.MaxInt32
)

// Config controls the Collector's thresholds, surfaced in the digest text.
type Config struct {
	Env                  string
	BatchWindow          time.Duration
	SlowRequestThreshold time.Duration
	SlowTaskThreshold    time.Duration
}

// Collector flushes the hourly slow-request batch and the current set of
// task warnings into a single periodic digest message.
type Collector struct {
	kv       kv.Adapter
	notifier *notifier.Notifier
	log      *logging.Logger
	cfg      Config
}

// New constructs a Collector.
func New(kvAdapter kv.Adapter, n *notifier.Notifier, log *logging.Logger, cfg Config) *Collector {
	return &Collector{kv: kvAdapter, notifier: n, log: log, cfg: cfg}
}

type slowRequestEntry struct {
	Time      float64 `json:"time"`
	User      string  `json:"user"`
	Timestamp int64   `json:"timestamp"`
}

type slowRequestGroup struct {
	Endpoint string
	Count    int
	MaxTime  float64
	AvgTime  float64
	Samples  []slowRequestEntry
}

type taskWarnings struct {
	Failed map[string]int64
	Slow   []string
}

// Run collects the current batch and sends a digest if there is anything to
// report; an empty batch is a silent no-op.
func (c *Collector) Run(ctx context.Context) {
	requests, err := c.collectSlowRequests(ctx)
	if err != nil {
		c.log.Error(ctx, "failed to collect slow request batch", err, nil)
		return
	}

	warnings, err := c.collectTaskWarnings(ctx)
	if err != nil {
		c.log.Error(ctx, "failed to collect task warnings", err, nil)
		return
	}

	if len(requests) == 0 && len(warnings.Failed) == 0 && len(warnings.Slow) == 0 {
		c.log.Debug(ctx, "no batch alerts to send", nil)
		return
	}

	text := c.format(requests, warnings)
	if c.notifier != nil {
		c.notifier.SendMessage(ctx, text, true)
	}
	c.log.Info(ctx, "batch alert sent", map[string]interface{}{
		"slow_requests": len(requests),
		"failed_tasks":  len(warnings.Failed),
	})
}

func (c *Collector) collectSlowRequests(ctx context.Context) ([]slowRequestGroup, error) {
	hourBucket := time.Now().UTC().Format("2006-01-02-15")
	batchKey := fmt.Sprintf("monitoring:slow_requests_batch:%s", hourBucket)

	items, err := c.kv.LRange(ctx, batchKey, allItems)
	if err != nil {
		return nil, fmt.Errorf("batch: lrange: %w", err)
	}
	_ = c.kv.Del(ctx, batchKey)

	byEndpoint := map[string][]slowRequestEntry{}
	for _, raw := range items {
		var parsed struct {
			Path      string  `json:"path"`
			Time      float64 `json:"time"`
			User      string  `json:"user"`
			Timestamp int64   `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			c.log.Warn(ctx, "failed to parse batch item", map[string]interface{}{"error": err.Error()})
			continue
		}
		byEndpoint[parsed.Path] = append(byEndpoint[parsed.Path], slowRequestEntry{
			Time: parsed.Time, User: parsed.User, Timestamp: parsed.Timestamp,
		})
	}

	groups := make([]slowRequestGroup, 0, len(byEndpoint))
	for endpoint, entries := range byEndpoint {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Time > entries[j].Time })

		var sum, max float64
		for _, e := range entries {
			sum += e.Time
			if e.Time > max {
				max = e.Time
			}
		}
		samples := entries
		if len(samples) > maxSamplesPerEndpoint {
			samples = samples[:maxSamplesPerEndpoint]
		}
		groups = append(groups, slowRequestGroup{
			Endpoint: endpoint,
			Count:    len(entries),
			MaxTime:  max,
			AvgTime:  sum / float64(len(entries)),
			Samples:  samples,
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	return groups, nil
}

func (c *Collector) collectTaskWarnings(ctx context.Context) (taskWarnings, error) {
	today := time.Now().UTC().Format("2006-01-02")

	failed := map[string]int64{}
	failureKeys, err := c.kv.Scan(ctx, fmt.Sprintf("monitoring:stats:%s:tasks:failure:*", today))
	if err != nil {
		return taskWarnings{}, fmt.Errorf("batch: scan task failures: %w", err)
	}
	for _, key := range failureKeys {
		parts := strings.Split(key, ":")
		name := parts[len(parts)-1]
		raw, ok, err := c.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if n, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil && n > 0 {
			failed[name] = n
		}
	}

	slowKeys, err := c.kv.Scan(ctx, "monitoring:tasks:slow:*")
	if err != nil {
		return taskWarnings{}, fmt.Errorf("batch: scan slow tasks: %w", err)
	}
	slow := make([]string, 0, len(slowKeys))
	for _, key := range slowKeys {
		parts := strings.Split(key, ":")
		slow = append(slow, parts[len(parts)-1])
	}
	sort.Strings(slow)

	return taskWarnings{Failed: failed, Slow: slow}, nil
}

func (c *Collector) format(requests []slowRequestGroup, warnings taskWarnings) string {
	lines := []string{
		"⚠️ *Batch Alert Summary*",
		fmt.Sprintf("_%s_", strings.ToUpper(c.cfg.Env)),
		fmt.Sprintf("_Period: Last %v_", c.cfg.BatchWindow),
		"",
	}

	if len(requests) > 0 {
		lines = append(lines, "*🐌 Slow Requests:*")
		shown := requests
		if len(shown) > maxEndpointsShown {
			shown = shown[:maxEndpointsShown]
		}
		now := time.Now().UTC()
		for _, req := range shown {
			lines = append(lines, fmt.Sprintf("• `%s`: %d requests, max %.1fs, avg %.1fs",
				req.Endpoint, req.Count, req.MaxTime, req.AvgTime))
			for _, s := range req.Samples {
				ago := int(now.Sub(time.Unix(s.Timestamp, 0)).Minutes())
				lines = append(lines, fmt.Sprintf("  - %.1fs by %s (%dm ago)", s.Time, s.User, ago))
			}
		}
		if len(requests) > maxEndpointsShown {
			lines = append(lines, fmt.Sprintf("  _...and %d more endpoints_", len(requests)-maxEndpointsShown))
		}
		lines = append(lines, "")
	}

	if len(warnings.Failed) > 0 {
		lines = append(lines, "*❌ Failed Tasks:*")
		type kv struct {
			name  string
			count int64
		}
		sorted := make([]kv, 0, len(warnings.Failed))
		for name, count := range warnings.Failed {
			sorted = append(sorted, kv{name, count})
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })
		shown := sorted
		if len(shown) > maxTasksShown {
			shown = shown[:maxTasksShown]
		}
		for _, t := range shown {
			lines = append(lines, fmt.Sprintf("• `%s`: %d failures", t.name, t.count))
		}
		if len(sorted) > maxTasksShown {
			lines = append(lines, fmt.Sprintf("  _...and %d more tasks_", len(sorted)-maxTasksShown))
		}
		lines = append(lines, "")
	}

	if len(warnings.Slow) > 0 {
		lines = append(lines, "*⏱️ Slow Tasks:*")
		shown := warnings.Slow
		if len(shown) > maxTasksShown {
			shown = shown[:maxTasksShown]
		}
		for _, name := range shown {
			lines = append(lines, fmt.Sprintf("• `%s`", name))
		}
		if len(warnings.Slow) > maxTasksShown {
			lines = append(lines, fmt.Sprintf("  _...and %d more tasks_", len(warnings.Slow)-maxTasksShown))
		}
		lines = append(lines, "")
	}

	totalIssues := len(requests) + len(warnings.Failed)
	if totalIssues > 0 {
		lines = append(lines, fmt.Sprintf("*Total Issues:* %d", totalIssues))
		lines = append(lines, fmt.Sprintf("_Threshold: Slow requests >%v, Slow tasks >%v_",
			c.cfg.SlowRequestThreshold, c.cfg.SlowTaskThreshold))
	}

	return strings.Join(lines, "\n")
}

package health

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
	"github.com/flowlane/pulsefeed/internal/monitoring/queue"
)

func testLog() *logging.Logger { return logging.New("health-test", "error", "text") }

func TestProberRun_AllHealthyStoresSnapshot(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	q := queue.NewMemoryQueue()
	p := NewProber(NullDatabaseAdapter{}, adapter, q, nil, testLog(), DefaultConfig())

	p.Run(context.Background())

	raw, ok, err := adapter.Get(context.Background(), snapshotKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, raw, `"healthy":true`)
}

type failingDB struct{ NullDatabaseAdapter }

func (failingDB) HealthCheck(ctx context.Context) error { return errors.New("unreachable") }

func TestProberRun_UnhealthyDatabaseMarksSnapshotUnhealthy(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	q := queue.NewMemoryQueue()
	p := NewProber(failingDB{}, adapter, q, nil, testLog(), DefaultConfig())

	p.Run(context.Background())

	raw, ok, _ := adapter.Get(context.Background(), snapshotKey)
	require.True(t, ok)
	require.Contains(t, raw, `"healthy":false`)
}

func TestProberRun_StuckQueueIsUnhealthy(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	q := queue.NewMemoryQueue()
	stuckAt := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, adapter.Set(context.Background(), QueueLastJobCompletedKey, strconv.FormatInt(stuckAt, 10), time.Hour))

	cfg := DefaultConfig()
	cfg.QueueStuckThreshold = 10 * time.Minute
	p := NewProber(NullDatabaseAdapter{}, adapter, q, nil, testLog(), cfg)

	p.Run(context.Background())

	raw, ok, _ := adapter.Get(context.Background(), snapshotKey)
	require.True(t, ok)
	require.Contains(t, raw, `"healthy":false`)
}

func TestStartupNotice_SkippedOutsideProduction(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	p := NewProber(NullDatabaseAdapter{}, adapter, queue.NewMemoryQueue(), nil, testLog(), DefaultConfig())

	p.StartupNotice(context.Background(), "development", "1.0.0", time.Minute)

	_, ok, _ := adapter.Get(context.Background(), startupDedup)
	require.False(t, ok)
}

func TestStartupNotice_DedupedInProduction(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	n := notifier.New(notifier.Config{}, testLog())
	p := NewProber(NullDatabaseAdapter{}, adapter, queue.NewMemoryQueue(), n, testLog(), DefaultConfig())

	p.StartupNotice(context.Background(), "production", "1.0.0", time.Minute)
	_, first, _ := adapter.Get(context.Background(), startupDedup)
	require.True(t, first)

	// A second call within the dedup window must not reset anything; the
	// key is set with SetNX so it stays owned by the first call.
	p.StartupNotice(context.Background(), "production", "1.0.0", time.Minute)
	raw, _, _ := adapter.Get(context.Background(), startupDedup)
	require.Equal(t, "1", raw)
}

func TestReporterRun_NullDatabaseOmitsUserStatsButIncludesErrorStats(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	today := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, adapter.Set(context.Background(), "monitoring:stats:"+today+":errors:total", "3", time.Hour))
	require.NoError(t, adapter.Set(context.Background(), "monitoring:stats:"+today+":errors:type:ValueError", "2", time.Hour))

	n := notifier.New(notifier.Config{BotToken: "tok", ChatID: "1"}, testLog())
	r := NewReporter(NullDatabaseAdapter{}, adapter, n, testLog())

	stats, err := r.collect(context.Background())
	require.NoError(t, err)
	require.False(t, stats.HaveUserStats)
	require.True(t, stats.HaveErrorStats)
	require.Equal(t, int64(3), stats.TotalErrors)
	require.Equal(t, int64(2), stats.ErrorsByType["ValueError"])

	text := r.format(stats)
	require.NotContains(t, text, "*Users:*")
	require.Contains(t, text, "Errors:")
}

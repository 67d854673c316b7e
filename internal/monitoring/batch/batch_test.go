package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
)

func testLog() *logging.Logger { return logging.New("batch-test", "error", "text") }

func TestCollectSlowRequests_GroupsByEndpointAndSortsByCount(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	hourBucket := time.Now().UTC().Format("2006-01-02-15")
	batchKey := fmt.Sprintf("monitoring:slow_requests_batch:%s", hourBucket)

	entries := []string{
		`{"path":"GET /a","time":1.5,"user":"u1","timestamp":1}`,
		`{"path":"GET /a","time":2.5,"user":"u2","timestamp":2}`,
		`{"path":"GET /b","time":0.9,"user":"u3","timestamp":3}`,
	}
	for _, e := range entries {
		require.NoError(t, adapter.LPush(context.Background(), batchKey, e))
	}

	c := New(adapter, nil, testLog(), Config{})
	groups, err := c.collectSlowRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "GET /a", groups[0].Endpoint)
	require.Equal(t, 2, groups[0].Count)
	require.InDelta(t, 2.5, groups[0].MaxTime, 0.001)
	require.InDelta(t, 2.0, groups[0].AvgTime, 0.001)

	// The batch key must be drained after collection.
	remaining, err := adapter.LRange(context.Background(), batchKey, allItems)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestCollectTaskWarnings_ReadsFailuresAndSlowKeys(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	today := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, adapter.Set(context.Background(), fmt.Sprintf("monitoring:stats:%s:tasks:failure:ingest", today), "4", time.Hour))
	require.NoError(t, adapter.Set(context.Background(), "monitoring:tasks:slow:aggregate_session", "1", time.Hour))

	c := New(adapter, nil, testLog(), Config{})
	warnings, err := c.collectTaskWarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), warnings.Failed["ingest"])
	require.Equal(t, []string{"aggregate_session"}, warnings.Slow)
}

func TestRun_EmptyBatchIsSilentNoop(t *testing.T) {
	adapter := kv.NewMemoryAdapter()
	c := New(adapter, nil, testLog(), Config{Env: "production"})
	// Must not panic with a nil notifier when there's nothing to send.
	c.Run(context.Background())
}

func TestFormat_IncludesSlowRequestsAndFailedTasks(t *testing.T) {
	c := New(nil, nil, testLog(), Config{Env: "production", SlowRequestThreshold: time.Second, SlowTaskThreshold: 5 * time.Second})
	text := c.format(
		[]slowRequestGroup{{Endpoint: "GET /a", Count: 2, MaxTime: 2.5, AvgTime: 2.0, Samples: []slowRequestEntry{{Time: 2.5, User: "u1", Timestamp: time.Now().Unix()}}}},
		taskWarnings{Failed: map[string]int64{"ingest": 4}, Slow: []string{"aggregate_session"}},
	)
	require.Contains(t, text, "GET /a")
	require.Contains(t, text, "ingest")
	require.Contains(t, text, "aggregate_session")
	require.Contains(t, text, "Total Issues")
}

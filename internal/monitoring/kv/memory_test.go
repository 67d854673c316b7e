package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter_SetNX_FirstWinsOnly(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	first, err := m.SetNX(ctx, "error:fp1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := m.SetNX(ctx, "error:fp1", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestMemoryAdapter_SetNX_ExpiresAfterTTL(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "v", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = m.SetNX(ctx, "k", "v2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "key should be reusable once expired")
}

func TestMemoryAdapter_Incr(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	v, err := m.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = m.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestMemoryAdapter_LPushAndLTrim(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.LPush(ctx, "list", string(rune('a'+i))))
	}
	require.NoError(t, m.LTrim(ctx, "list", 3))

	vals, err := m.LRange(ctx, "list", 10)
	require.NoError(t, err)
	assert.Len(t, vals, 3)
}

func TestMemoryAdapter_Scan(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "stats:2026-01-01:errors:type:foo", "1", 0))
	require.NoError(t, m.Set(ctx, "stats:2026-01-01:errors:type:bar", "1", 0))
	require.NoError(t, m.Set(ctx, "stats:2026-01-01:slow_requests:x", "1", 0))

	keys, err := m.Scan(ctx, "stats:2026-01-01:errors:type:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

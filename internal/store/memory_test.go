package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Incr(ctx, "stats:requests:total", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.Incr(ctx, "stats:requests:total", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestMemoryStoreHIncrBy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.HIncrBy(ctx, "api:stats:text", "calls", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	all, err := s.HGetAll(ctx, "api:stats:text")
	require.NoError(t, err)
	assert.Equal(t, "1", all["calls"])
}

func TestMemoryStoreLPushTrim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LPushTrim(ctx, "stats:latency:all", "x", 3))
	}

	values, err := s.LRange(ctx, "stats:latency:all", 0, -1)
	require.NoError(t, err)
	assert.Len(t, values, 3)
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "stats:flags:phone", "1"))
	require.NoError(t, s.Set(ctx, "stats:flags:email", "1"))
	require.NoError(t, s.Set(ctx, "other:key", "1"))

	keys, err := s.Scan(ctx, "stats:flags:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stats:flags:phone", "stats:flags:email"}, keys)
}

func TestMemoryStoreReady(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Ready(context.Background()))
}

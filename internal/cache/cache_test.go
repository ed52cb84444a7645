package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSetGetRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	c := New(DefaultOptions("test"), logger)
	defer c.Destroy()

	require.NoError(t, c.Set("k1", map[string]string{"hello": "world"}, time.Minute))

	var out map[string]string
	hit, err := c.Get("k1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "world", out["hello"])
}

func TestGetMissOnAbsentKey(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	c := New(DefaultOptions("test"), logger)
	defer c.Destroy()

	hit, err := c.Get("missing", nil)
	require.NoError(t, err)
	assert.False(t, hit)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGetMissOnExpiredEntry(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	c := New(DefaultOptions("test"), logger)
	defer c.Destroy()

	require.NoError(t, c.Set("k1", "value", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	hit, err := c.Get("k1", nil)
	require.NoError(t, err)
	assert.False(t, hit)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
}

func TestSetEvictsWhenMaxEntriesExceeded(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	opts := DefaultOptions("test")
	opts.MaxEntries = 2
	opts.Policy = PolicyLRU
	c := New(opts, logger)
	defer c.Destroy()

	require.NoError(t, c.Set("a", "1", time.Minute))
	require.NoError(t, c.Set("b", "2", time.Minute))

	var out string
	hit, err := c.Get("a", &out)
	require.NoError(t, err)
	require.True(t, hit)

	require.NoError(t, c.Set("c", "3", time.Minute))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 2)

	hitB, err := c.Get("b", &out)
	require.NoError(t, err)
	assert.False(t, hitB, "b should be the LRU victim since a was just accessed")

	hitA, err := c.Get("a", &out)
	require.NoError(t, err)
	assert.True(t, hitA)
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"lru", PolicyLRU},
		{"lfu", PolicyLFU},
		{"time_aware", PolicyTimeAware},
		{"hybrid", PolicyHybrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t).Sugar()
			opts := DefaultOptions("test")
			opts.MaxEntries = 3
			opts.Policy = tt.policy
			c := New(opts, logger)
			defer c.Destroy()

			for i := 0; i < 5; i++ {
				require.NoError(t, c.Set(fmt.Sprintf("key-%d", i), i, time.Minute))
			}

			stats := c.Stats()
			assert.LessOrEqual(t, stats.Entries, 3)
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	c := New(DefaultOptions("test"), logger)
	defer c.Destroy()

	require.NoError(t, c.Set("k1", "v1", time.Minute))
	c.Delete("k1")
	hit, err := c.Get("k1", nil)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set("k2", "v2", time.Minute))
	require.NoError(t, c.Set("k3", "v3", time.Minute))
	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCompressionRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	opts := DefaultOptions("test")
	opts.CompressionEnabled = true
	c := New(opts, logger)
	defer c.Destroy()

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte('a' + i%26)
	}
	require.NoError(t, c.Set("big", string(large), time.Minute))

	var out string
	hit, err := c.Get("big", &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, string(large), out)
}

func TestGetMissOnExpiredEntryWithMockClock(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	mockClock := clock.NewMock()
	c := newWithClock(DefaultOptions("test"), logger, mockClock)
	defer c.Destroy()

	require.NoError(t, c.Set("k1", "value", time.Minute))

	mockClock.Add(90 * time.Second)

	hit, err := c.Get("k1", nil)
	require.NoError(t, err)
	assert.False(t, hit, "entry should have expired once the mock clock advanced past its TTL")
}

func TestStatsHitRate(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	c := New(DefaultOptions("test"), logger)
	defer c.Destroy()

	require.NoError(t, c.Set("k1", "v1", time.Minute))
	_, _ = c.Get("k1", new(string))
	_, _ = c.Get("missing", nil)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowCounterIncrAndGet(t *testing.T) {
	mockClock := clock.NewMock()
	c := newMemoryWindowCounterWithClock(mockClock)
	ctx := context.Background()

	count, ttl, err := c.IncrAndGet(ctx, "rl:caller-1:/v1/filter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)

	mockClock.Add(30 * time.Second)
	count, ttl, err = c.IncrAndGet(ctx, "rl:caller-1:/v1/filter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestMemoryWindowCounterResetsAfterWindowExpires(t *testing.T) {
	mockClock := clock.NewMock()
	c := newMemoryWindowCounterWithClock(mockClock)
	ctx := context.Background()

	_, _, err := c.IncrAndGet(ctx, "rl:caller-1:/v1/filter", time.Minute)
	require.NoError(t, err)

	mockClock.Add(2 * time.Minute)

	count, ttl, err := c.IncrAndGet(ctx, "rl:caller-1:/v1/filter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "bucket should have rolled over to a fresh window")
	assert.Equal(t, time.Minute, ttl)
}

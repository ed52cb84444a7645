package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/modgate/internal/store"
)

func TestRecordRequestWritesAllCounters(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	s := store.NewMemoryStore()
	tr := New(s, logger)
	ctx := context.Background()

	tr.RecordRequest(ctx, Outcome{
		CallerID:  "caller-1",
		Blocked:   true,
		Cached:    false,
		Flags:     []string{"phone_number"},
		LatencyMs: 42,
		APIType:   APITypeText,
	})

	total, err := s.MGet(ctx, []string{"stats:requests:total", "stats:requests:blocked", "stats:requests:user:caller-1", "stats:flags:phone_number"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1", "1", "1"}, total)

	hash, err := s.HGetAll(ctx, "api:stats:text")
	require.NoError(t, err)
	assert.Equal(t, "1", hash["calls"])
	assert.Equal(t, "42", hash["total_time"])

	latencies, err := s.LRange(ctx, "stats:latency:all", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, latencies)
}

func TestRecordRequestNeverPanicsOnMissingCallerOrFlags(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	s := store.NewMemoryStore()
	tr := New(s, logger)

	assert.NotPanics(t, func() {
		tr.RecordRequest(context.Background(), Outcome{LatencyMs: 5})
	})
}

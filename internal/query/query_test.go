package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/modgate/internal/store"
)

func TestLiveSummaryReadsCurrentCounters(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Incr(ctx, "stats:requests:total", 10)
	_, _ = s.Incr(ctx, "stats:requests:blocked", 3)
	_, _ = s.Incr(ctx, "stats:requests:cached", 2)

	svc := New(nil, nil, s, zaptest.NewLogger(t).Sugar())
	defer svc.Destroy()

	summary, err := svc.Summary(ctx, WindowLive)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.TotalRequests)
	assert.Equal(t, int64(3), summary.BlockedRequests)
	assert.Equal(t, int64(2), summary.CachedRequests)
	assert.Equal(t, int64(7), summary.FilteredRequests)
}

func TestLiveSummaryIsCachedOnSecondCall(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Incr(ctx, "stats:requests:total", 5)

	svc := New(nil, nil, s, zaptest.NewLogger(t).Sugar())
	defer svc.Destroy()

	first, err := svc.Summary(ctx, WindowLive)
	require.NoError(t, err)

	_, _ = s.Incr(ctx, "stats:requests:total", 100)

	second, err := svc.Summary(ctx, WindowLive)
	require.NoError(t, err)
	assert.Equal(t, first.TotalRequests, second.TotalRequests)
}

func TestHealthReportsDegradedWithoutDatabase(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(nil, nil, s, zaptest.NewLogger(t).Sugar())
	defer svc.Destroy()

	h := svc.Health(context.Background())
	assert.True(t, h.Services["redis"])
	assert.False(t, h.Services["database"])
	assert.Equal(t, "degraded", h.Status)
}

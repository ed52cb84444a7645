package aggregator

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/modgate/internal/rollupdb"
	"github.com/yanolja/modgate/internal/store"
)

func newTestWorker(t *testing.T) (*Worker, store.CounterStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	rollups := rollupdb.NewRollupStore(&rollupdb.DB{SQLX: sqlxDB})

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO request_stats_daily").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_performance_hourly").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_performance_hourly").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO content_flags_daily").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_activity_daily").WillReturnResult(sqlmock.NewResult(0, 1))

	s := store.NewMemoryStore()
	logger := zaptest.NewLogger(t).Sugar()
	return New(s, rollups, logger, nil), s, mock
}

func TestRunAggregatesAllSubTasks(t *testing.T) {
	worker, s, _ := newTestWorker(t)
	ctx := context.Background()

	_, _ = s.Incr(ctx, "stats:requests:total", 10)
	_, _ = s.Incr(ctx, "stats:requests:blocked", 3)
	_, _ = s.Incr(ctx, "stats:requests:cached", 2)
	_, _ = s.Incr(ctx, "stats:requests:user:caller-1", 5)
	_, _ = s.Incr(ctx, "stats:flags:phone_number", 4)

	report := worker.Run(ctx, false)
	assert.True(t, report.Success)
	assert.Len(t, report.Tasks, 4)
}

func TestRunRejectsConcurrentInvocation(t *testing.T) {
	worker, _, _ := newTestWorker(t)
	worker.running.Store(true)

	report := worker.Run(context.Background(), false)
	assert.False(t, report.Success)
}

func TestLatencyStatsComputesPercentiles(t *testing.T) {
	samples := make([]int64, 100)
	for i := range samples {
		samples[i] = int64(i + 1)
	}
	avg, p50, p95, p99 := latencyStats(samples)
	assert.InDelta(t, 50.5, avg, 0.01)
	assert.Equal(t, float64(51), p50)
	assert.Equal(t, float64(96), p95)
	assert.Equal(t, float64(100), p99)
}

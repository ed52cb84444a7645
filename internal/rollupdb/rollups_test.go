package rollupdb

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRollupStore(t *testing.T) (*RollupStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	return NewRollupStore(&DB{SQLX: sqlxDB}), mock
}

func TestUpsertRequestStatsDailyIssuesOnConflictUpdate(t *testing.T) {
	store, mock := newMockRollupStore(t)
	mock.ExpectExec("INSERT INTO request_stats_daily").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertRequestStatsDaily(context.Background(), RequestStatsDaily{
		Date:             time.Now(),
		TotalRequests:    10,
		FilteredRequests: 7,
		BlockedRequests:  3,
		CachedRequests:   2,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequestStatsDailyReRunIsIdempotent(t *testing.T) {
	store, mock := newMockRollupStore(t)
	mock.ExpectExec("INSERT INTO request_stats_daily").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO request_stats_daily").WillReturnResult(sqlmock.NewResult(0, 1))

	row := RequestStatsDaily{
		Date:             time.Now(),
		TotalRequests:    10,
		FilteredRequests: 7,
		BlockedRequests:  3,
		CachedRequests:   2,
	}
	require.NoError(t, store.UpsertRequestStatsDaily(context.Background(), row))
	require.NoError(t, store.UpsertRequestStatsDaily(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package rollupdb

import (
	"context"
	"fmt"
	"time"
)

// RequestStatsDaily is one day's aggregate request counts and latencies.
type RequestStatsDaily struct {
	Date               time.Time `db:"date"`
	TotalRequests      int64     `db:"total_requests"`
	FilteredRequests   int64     `db:"filtered_requests"`
	BlockedRequests    int64     `db:"blocked_requests"`
	CachedRequests     int64     `db:"cached_requests"`
	AvgResponseTimeMs  float64   `db:"avg_response_time_ms"`
	P95ResponseTimeMs  float64   `db:"p95_response_time_ms"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// ApiPerformanceHourly is one hour's per-API-type call counts and latency.
type ApiPerformanceHourly struct {
	Timestamp         time.Time `db:"timestamp"`
	APIType           string    `db:"api_type"`
	TotalCalls        int64     `db:"total_calls"`
	ErrorCalls        int64     `db:"error_calls"`
	AvgResponseTimeMs float64   `db:"avg_response_time_ms"`
}

// ContentFlagsDaily is one day's count of a single moderation flag.
type ContentFlagsDaily struct {
	Date     time.Time `db:"date"`
	FlagName string    `db:"flag_name"`
	Count    int64     `db:"count"`
}

// UserActivityDaily is one caller's daily request and block counts.
type UserActivityDaily struct {
	Date          time.Time `db:"date"`
	CallerID      string    `db:"caller_id"`
	RequestCount  int64     `db:"request_count"`
	BlockedCount  int64     `db:"blocked_count"`
}

// RollupStore upserts and queries the four rollup tables. Every Upsert* call
// is idempotent: re-running with the same counter snapshot overwrites the
// row with the same values (only updated_at changes).
type RollupStore struct {
	db *DB
}

// NewRollupStore wraps an open DB.
func NewRollupStore(db *DB) *RollupStore {
	return &RollupStore{db: db}
}

const upsertRequestStatsDailySQL = `
INSERT INTO request_stats_daily
	(date, total_requests, filtered_requests, blocked_requests, cached_requests, avg_response_time_ms, p95_response_time_ms, updated_at)
VALUES
	(:date, :total_requests, :filtered_requests, :blocked_requests, :cached_requests, :avg_response_time_ms, :p95_response_time_ms, now())
ON CONFLICT (date) DO UPDATE SET
	total_requests = EXCLUDED.total_requests,
	filtered_requests = EXCLUDED.filtered_requests,
	blocked_requests = EXCLUDED.blocked_requests,
	cached_requests = EXCLUDED.cached_requests,
	avg_response_time_ms = EXCLUDED.avg_response_time_ms,
	p95_response_time_ms = EXCLUDED.p95_response_time_ms,
	updated_at = now()
`

func (s *RollupStore) UpsertRequestStatsDaily(ctx context.Context, row RequestStatsDaily) error {
	_, err := s.db.SQLX.NamedExecContext(ctx, upsertRequestStatsDailySQL, row)
	if err != nil {
		return fmt.Errorf("rollupdb: upsert request_stats_daily: %w", err)
	}
	return nil
}

const upsertApiPerformanceHourlySQL = `
INSERT INTO api_performance_hourly
	(timestamp, api_type, total_calls, error_calls, avg_response_time_ms, updated_at)
VALUES
	(:timestamp, :api_type, :total_calls, :error_calls, :avg_response_time_ms, now())
ON CONFLICT (timestamp, api_type) DO UPDATE SET
	total_calls = EXCLUDED.total_calls,
	error_calls = EXCLUDED.error_calls,
	avg_response_time_ms = EXCLUDED.avg_response_time_ms,
	updated_at = now()
`

func (s *RollupStore) UpsertApiPerformanceHourly(ctx context.Context, row ApiPerformanceHourly) error {
	_, err := s.db.SQLX.NamedExecContext(ctx, upsertApiPerformanceHourlySQL, row)
	if err != nil {
		return fmt.Errorf("rollupdb: upsert api_performance_hourly: %w", err)
	}
	return nil
}

const upsertContentFlagsDailySQL = `
INSERT INTO content_flags_daily (date, flag_name, count, updated_at)
VALUES (:date, :flag_name, :count, now())
ON CONFLICT (date, flag_name) DO UPDATE SET
	count = EXCLUDED.count,
	updated_at = now()
`

func (s *RollupStore) UpsertContentFlagsDaily(ctx context.Context, row ContentFlagsDaily) error {
	_, err := s.db.SQLX.NamedExecContext(ctx, upsertContentFlagsDailySQL, row)
	if err != nil {
		return fmt.Errorf("rollupdb: upsert content_flags_daily: %w", err)
	}
	return nil
}

const upsertUserActivityDailySQL = `
INSERT INTO user_activity_daily (date, caller_id, request_count, blocked_count, updated_at)
VALUES (:date, :caller_id, :request_count, :blocked_count, now())
ON CONFLICT (date, caller_id) DO UPDATE SET
	request_count = EXCLUDED.request_count,
	blocked_count = EXCLUDED.blocked_count,
	updated_at = now()
`

func (s *RollupStore) UpsertUserActivityDaily(ctx context.Context, row UserActivityDaily) error {
	_, err := s.db.SQLX.NamedExecContext(ctx, upsertUserActivityDailySQL, row)
	if err != nil {
		return fmt.Errorf("rollupdb: upsert user_activity_daily: %w", err)
	}
	return nil
}

// RequestStatsRange returns daily rows between from and to, inclusive.
func (s *RollupStore) RequestStatsRange(ctx context.Context, from, to time.Time) ([]RequestStatsDaily, error) {
	var rows []RequestStatsDaily
	err := s.db.SQLX.SelectContext(ctx, &rows,
		`SELECT * FROM request_stats_daily WHERE date BETWEEN $1 AND $2 ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: query request_stats_daily: %w", err)
	}
	return rows, nil
}

// ApiPerformanceRange returns hourly rows between from and to, inclusive.
func (s *RollupStore) ApiPerformanceRange(ctx context.Context, from, to time.Time) ([]ApiPerformanceHourly, error) {
	var rows []ApiPerformanceHourly
	err := s.db.SQLX.SelectContext(ctx, &rows,
		`SELECT timestamp, api_type, total_calls, error_calls, avg_response_time_ms FROM api_performance_hourly WHERE timestamp BETWEEN $1 AND $2 ORDER BY timestamp`, from, to)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: query api_performance_hourly: %w", err)
	}
	return rows, nil
}

// UserActivityRange returns a caller's daily activity between from and to.
func (s *RollupStore) UserActivityRange(ctx context.Context, callerID string, from, to time.Time) ([]UserActivityDaily, error) {
	var rows []UserActivityDaily
	err := s.db.SQLX.SelectContext(ctx, &rows,
		`SELECT date, caller_id, request_count, blocked_count FROM user_activity_daily WHERE caller_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date`,
		callerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: query user_activity_daily: %w", err)
	}
	return rows, nil
}

// ContentFlagsRange returns per-flag counts between from and to.
func (s *RollupStore) ContentFlagsRange(ctx context.Context, from, to time.Time) ([]ContentFlagsDaily, error) {
	var rows []ContentFlagsDaily
	err := s.db.SQLX.SelectContext(ctx, &rows,
		`SELECT date, flag_name, count FROM content_flags_daily WHERE date BETWEEN $1 AND $2 ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: query content_flags_daily: %w", err)
	}
	return rows, nil
}

// Package query implements the read-side service: summary, time-series,
// per-caller, and health endpoints, reading the relational
// rollups first and falling back to live counters only for the current
// unaggregated window. Results are fronted by a thin read-through cache
// in front of rollupdb queries, reusing internal/cache rather than a
// second bespoke implementation.
package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanolja/modgate/internal/cache"
	"github.com/yanolja/modgate/internal/rollupdb"
	"github.com/yanolja/modgate/internal/store"
)

// Window selects a summary time range.
type Window string

const (
	WindowToday     Window = "today"
	WindowYesterday Window = "yesterday"
	Window7d        Window = "7d"
	Window30d       Window = "30d"
	WindowAllTime   Window = "all"
	WindowLive      Window = "1h"
)

// Summary is the response shape for GET /stats/summary.
type Summary struct {
	TotalRequests    int64   `json:"totalRequests"`
	FilteredRequests int64   `json:"filteredRequests"`
	BlockedRequests  int64   `json:"blockedRequests"`
	CachedRequests   int64   `json:"cachedRequests"`
	AvgResponseMs    float64 `json:"avgResponseTimeMs"`
	P95ResponseMs    float64 `json:"p95ResponseTimeMs"`
}

// Health is the response shape for GET /health.
type Health struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
}

const cacheTTL = 30 * time.Second

// Service answers query-service endpoints.
type Service struct {
	rollups *rollupdb.RollupStore
	db      *rollupdb.DB
	store   store.CounterStore
	cache   *cache.Cache
	logger  *zap.SugaredLogger
}

// New constructs a Service.
func New(db *rollupdb.DB, rollups *rollupdb.RollupStore, s store.CounterStore, logger *zap.SugaredLogger) *Service {
	opts := cache.DefaultOptions("query")
	opts.DefaultTTL = cacheTTL
	opts.MaxEntries = 1000
	return &Service{
		rollups: rollups,
		db:      db,
		store:   s,
		cache:   cache.New(opts, logger),
		logger:  logger,
	}
}

// Destroy stops the read-through cache's maintenance goroutine.
func (s *Service) Destroy() {
	s.cache.Destroy()
}

// Summary answers GET /stats/summary for the given window.
func (s *Service) Summary(ctx context.Context, window Window) (Summary, error) {
	cacheKey := fmt.Sprintf("summary:%s", window)
	var cached Summary
	if hit, err := s.cache.Get(cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	var result Summary
	var err error
	if window == WindowLive {
		result, err = s.liveSummary(ctx)
	} else {
		result, err = s.rollupSummary(ctx, window)
	}
	if err != nil {
		return Summary{}, err
	}

	if setErr := s.cache.Set(cacheKey, result, cacheTTL); setErr != nil {
		s.logger.Warnw("query: failed to populate summary cache", "error", setErr)
	}
	return result, nil
}

func (s *Service) rollupSummary(ctx context.Context, window Window) (Summary, error) {
	from, to := windowRange(window)
	rows, err := s.rollups.RequestStatsRange(ctx, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("query: rollup summary: %w", err)
	}

	var out Summary
	var weightedAvg, weightedP95 float64
	for _, r := range rows {
		out.TotalRequests += r.TotalRequests
		out.FilteredRequests += r.FilteredRequests
		out.BlockedRequests += r.BlockedRequests
		out.CachedRequests += r.CachedRequests
		weightedAvg += r.AvgResponseTimeMs * float64(r.TotalRequests)
		weightedP95 += r.P95ResponseTimeMs * float64(r.TotalRequests)
	}
	if out.TotalRequests > 0 {
		out.AvgResponseMs = weightedAvg / float64(out.TotalRequests)
		out.P95ResponseMs = weightedP95 / float64(out.TotalRequests)
	}
	return out, nil
}

// liveSummary reads the unaggregated live counters directly, covering the
// current window that has not yet been rolled up.
func (s *Service) liveSummary(ctx context.Context) (Summary, error) {
	values, err := s.store.MGet(ctx, []string{"stats:requests:total", "stats:requests:blocked", "stats:requests:cached"})
	if err != nil {
		return Summary{}, fmt.Errorf("query: live summary: %w", err)
	}
	total := parseInt(values[0])
	blocked := parseInt(values[1])
	cached := parseInt(values[2])
	return Summary{
		TotalRequests:    total,
		FilteredRequests: total - blocked,
		BlockedRequests:  blocked,
		CachedRequests:   cached,
	}, nil
}

// TimeSeries answers GET /stats/historical for a daily or hourly series.
func (s *Service) TimeSeries(ctx context.Context, from, to time.Time, hourly bool) (any, error) {
	if hourly {
		return s.rollups.ApiPerformanceRange(ctx, from, to)
	}
	return s.rollups.RequestStatsRange(ctx, from, to)
}

// UserActivity answers GET /stats/user/:id for a date range.
func (s *Service) UserActivity(ctx context.Context, callerID string, from, to time.Time) ([]rollupdb.UserActivityDaily, error) {
	return s.rollups.UserActivityRange(ctx, callerID, from, to)
}

// ContentFlags answers requests for the flag breakdown over a date range.
func (s *Service) ContentFlags(ctx context.Context, from, to time.Time) ([]rollupdb.ContentFlagsDaily, error) {
	return s.rollups.ContentFlagsRange(ctx, from, to)
}

// Health answers GET /health: binary healthy/degraded based on store and
// database reachability.
func (s *Service) Health(ctx context.Context) Health {
	services := map[string]bool{"api": true}

	storeErr := s.store.Ready(ctx)
	services["redis"] = storeErr == nil

	var dbErr error
	if s.db != nil {
		dbErr = s.db.Ping(ctx)
	} else {
		dbErr = fmt.Errorf("query: no database configured")
	}
	services["database"] = dbErr == nil

	status := "healthy"
	if storeErr != nil || dbErr != nil {
		status = "degraded"
	}
	return Health{Status: status, Services: services}
}

func windowRange(window Window) (time.Time, time.Time) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch window {
	case WindowYesterday:
		y := today.AddDate(0, 0, -1)
		return y, y
	case Window7d:
		return today.AddDate(0, 0, -6), today
	case Window30d:
		return today.AddDate(0, 0, -29), today
	case WindowAllTime:
		return time.Time{}, now
	default: // WindowToday
		return today, today
	}
}

func parseInt(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

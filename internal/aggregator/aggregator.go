// Package aggregator implements the periodic worker that reads the counter
// store and upserts idempotent daily/hourly rows into the
// relational store. It runs as a ticker-driven background worker with
// independent flush sub-tasks, snapshotting absolute counters into upsert
// rows rather than batching deltas, since rollup upserts must be idempotent
// rather than additive.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanolja/modgate/internal/monitoring"
	"github.com/yanolja/modgate/internal/rollupdb"
	"github.com/yanolja/modgate/internal/store"
)

// ReadyTimeout bounds how long the worker waits for the counter store to
// report ready before proceeding anyway.
const ReadyTimeout = 10 * time.Second

// LatencySampleRetention is how many recent latency samples survive a
// counter-clearing reset.
const LatencySampleRetention = 500

// TaskResult reports one sub-aggregation's outcome.
type TaskResult struct {
	Name    string
	Success bool
	Error   error
}

// Report is the aggregator's overall result: per-task outcomes plus the
// derived success flag (success iff every sub-task succeeded).
type Report struct {
	Tasks   []TaskResult
	Success bool
}

// Worker runs the aggregation pass against store.CounterStore and
// rollupdb.RollupStore.
type Worker struct {
	store   store.CounterStore
	rollups *rollupdb.RollupStore
	logger  *zap.SugaredLogger
	metrics *monitoring.Metrics

	running atomic.Bool
}

// New constructs a Worker. metrics may be nil, in which case run outcomes
// are not recorded.
func New(s store.CounterStore, rollups *rollupdb.RollupStore, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Worker {
	return &Worker{store: s, rollups: rollups, logger: logger, metrics: metrics}
}

// Run performs one aggregation pass. If clearAfter is true and every
// sub-task succeeds, counters are reset to "0" (not deleted). Concurrent
// calls are rejected with a warning and a single-element failure report,
// per the single-instance guard.
func (w *Worker) Run(ctx context.Context, clearAfter bool) Report {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Warnw("aggregator: run rejected, already in progress")
		return Report{Tasks: []TaskResult{{Name: "guard", Success: false, Error: fmt.Errorf("aggregation already in progress")}}}
	}
	defer w.running.Store(false)

	if !store.WaitReady(ctx, w.store, ReadyTimeout) {
		w.logger.Warnw("aggregator: counter store not ready after timeout, proceeding anyway")
	}

	now := time.Now().UTC()
	tasks := []TaskResult{
		w.runTask("request_stats_daily", func() error { return w.aggregateRequestStatsDaily(ctx, now) }),
		w.runTask("api_performance_hourly", func() error { return w.aggregateApiPerformanceHourly(ctx, now) }),
		w.runTask("content_flags_daily", func() error { return w.aggregateContentFlagsDaily(ctx, now) }),
		w.runTask("user_activity_daily", func() error { return w.aggregateUserActivityDaily(ctx, now) }),
	}

	report := Report{Tasks: tasks, Success: true}
	for _, t := range tasks {
		if !t.Success {
			report.Success = false
		}
	}

	if clearAfter && report.Success {
		if err := w.clearCounters(ctx); err != nil {
			w.logger.Warnw("aggregator: counter reset failed", "error", err)
		}
	}

	return report
}

func (w *Worker) runTask(name string, fn func() error) TaskResult {
	if err := fn(); err != nil {
		w.logger.Warnw("aggregator: sub-task failed", "task", name, "error", err)
		if w.metrics != nil {
			w.metrics.RecordAggregatorRun(name, "error")
		}
		return TaskResult{Name: name, Success: false, Error: err}
	}
	if w.metrics != nil {
		w.metrics.RecordAggregatorRun(name, "ok")
	}
	return TaskResult{Name: name, Success: true}
}

func (w *Worker) aggregateRequestStatsDaily(ctx context.Context, now time.Time) error {
	values, err := w.store.MGet(ctx, []string{"stats:requests:total", "stats:requests:blocked", "stats:requests:cached"})
	if err != nil {
		return fmt.Errorf("read request counters: %w", err)
	}
	total := parseInt(values[0])
	blocked := parseInt(values[1])
	cached := parseInt(values[2])

	samples, err := w.latencySamples(ctx)
	if err != nil {
		return fmt.Errorf("read latency samples: %w", err)
	}
	avg, _, p95, _ := latencyStats(samples)

	return w.rollups.UpsertRequestStatsDaily(ctx, rollupdb.RequestStatsDaily{
		Date:              dateOnly(now),
		TotalRequests:     total,
		FilteredRequests:  total - blocked,
		BlockedRequests:   blocked,
		CachedRequests:    cached,
		AvgResponseTimeMs: avg,
		P95ResponseTimeMs: p95,
	})
}

func (w *Worker) aggregateApiPerformanceHourly(ctx context.Context, now time.Time) error {
	for _, apiType := range []string{"text", "image"} {
		fields, err := w.store.HGetAll(ctx, fmt.Sprintf("api:stats:%s", apiType))
		if err != nil {
			return fmt.Errorf("read api stats for %s: %w", apiType, err)
		}
		calls := parseInt(fields["calls"])
		errs := parseInt(fields["errors"])
		totalTime := parseInt(fields["total_time"])

		var avg float64
		if calls > 0 {
			avg = float64(totalTime) / float64(calls)
		}

		if err := w.rollups.UpsertApiPerformanceHourly(ctx, rollupdb.ApiPerformanceHourly{
			Timestamp:         hourOnly(now),
			APIType:           apiType,
			TotalCalls:        calls,
			ErrorCalls:        errs,
			AvgResponseTimeMs: avg,
		}); err != nil {
			return fmt.Errorf("upsert api_performance_hourly for %s: %w", apiType, err)
		}
	}
	return nil
}

func (w *Worker) aggregateContentFlagsDaily(ctx context.Context, now time.Time) error {
	keys, err := w.store.Scan(ctx, "stats:flags:*")
	if err != nil {
		return fmt.Errorf("scan flag counters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	values, err := w.store.MGet(ctx, keys)
	if err != nil {
		return fmt.Errorf("read flag counters: %w", err)
	}
	for i, key := range keys {
		flagName := key[len("stats:flags:"):]
		if err := w.rollups.UpsertContentFlagsDaily(ctx, rollupdb.ContentFlagsDaily{
			Date:     dateOnly(now),
			FlagName: flagName,
			Count:    parseInt(values[i]),
		}); err != nil {
			return fmt.Errorf("upsert content_flags_daily for %s: %w", flagName, err)
		}
	}
	return nil
}

func (w *Worker) aggregateUserActivityDaily(ctx context.Context, now time.Time) error {
	keys, err := w.store.Scan(ctx, "stats:requests:user:*")
	if err != nil {
		return fmt.Errorf("scan user counters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	values, err := w.store.MGet(ctx, keys)
	if err != nil {
		return fmt.Errorf("read user counters: %w", err)
	}
	for i, key := range keys {
		callerID := key[len("stats:requests:user:"):]
		if err := w.rollups.UpsertUserActivityDaily(ctx, rollupdb.UserActivityDaily{
			Date:         dateOnly(now),
			CallerID:     callerID,
			RequestCount: parseInt(values[i]),
			// blockedCount has no write path in this pass: no per-caller
			// blocked counter is tracked. Left at zero until one is introduced.
			BlockedCount: 0,
		}); err != nil {
			return fmt.Errorf("upsert user_activity_daily for %s: %w", callerID, err)
		}
	}
	return nil
}

// clearCounters resets (not deletes) every counter touched by the
// aggregation pass.
func (w *Worker) clearCounters(ctx context.Context) error {
	for _, key := range []string{"stats:requests:total", "stats:requests:blocked", "stats:requests:cached"} {
		if err := w.store.Set(ctx, key, "0"); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	for _, apiType := range []string{"text", "image"} {
		key := fmt.Sprintf("api:stats:%s", apiType)
		current, err := w.store.HGetAll(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s for reset: %w", key, err)
		}
		for _, field := range []string{"calls", "errors", "total_time"} {
			if _, err := w.store.HIncrBy(ctx, key, field, -parseInt(current[field])); err != nil {
				return fmt.Errorf("reset %s.%s: %w", key, field, err)
			}
		}
	}
	userKeys, err := w.store.Scan(ctx, "stats:requests:user:*")
	if err != nil {
		return fmt.Errorf("scan user counters for reset: %w", err)
	}
	for _, key := range userKeys {
		if err := w.store.Set(ctx, key, "0"); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	flagKeys, err := w.store.Scan(ctx, "stats:flags:*")
	if err != nil {
		return fmt.Errorf("scan flag counters for reset: %w", err)
	}
	for _, key := range flagKeys {
		if err := w.store.Set(ctx, key, "0"); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	return w.trimLatencySamples(ctx)
}

func (w *Worker) trimLatencySamples(ctx context.Context) error {
	if err := w.store.Trim(ctx, "stats:latency:all", LatencySampleRetention); err != nil {
		return fmt.Errorf("trim latency samples: %w", err)
	}
	return nil
}

func (w *Worker) latencySamples(ctx context.Context) ([]int64, error) {
	raw, err := w.store.LRange(ctx, "stats:latency:all", 0, LatencySampleRetention*2-1)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		out = append(out, parseInt(s))
	}
	return out, nil
}

// latencyStats computes average, p50, p95, p99 from a sample set: sort
// ascending, index by floor(n*q).
func latencyStats(samples []int64) (avg, p50, p95, p99 float64) {
	if len(samples) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}
	avg = float64(sum) / float64(len(sorted))
	p50 = percentile(sorted, 0.50)
	p95 = percentile(sorted, 0.95)
	p99 = percentile(sorted, 0.99)
	return
}

func percentile(sorted []int64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func hourOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

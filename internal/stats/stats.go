// Package stats implements the request statistics tracker: synchronous,
// best-effort counter writes against internal/store on the hot path.
// Writes are fire-and-forget: errors are logged and swallowed, since a
// stats failure must never fail the caller's request.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanolja/modgate/internal/store"
)

// LatencyRetention bounds the stats:latency:all list (default 500, tracker
// trims to 2x that so the aggregator always has a recent window to sample
// from even between aggregation runs).
const LatencyRetention = 500

// APIType distinguishes per-API-type timing buckets.
type APIType string

const (
	APITypeText  APIType = "text"
	APITypeImage APIType = "image"
)

// Tracker writes request outcome counters to a store.CounterStore.
type Tracker struct {
	store  store.CounterStore
	logger *zap.SugaredLogger
}

// New constructs a Tracker over store.
func New(s store.CounterStore, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{store: s, logger: logger}
}

// Outcome summarizes one completed request for RecordRequest.
type Outcome struct {
	CallerID   string
	Blocked    bool
	Cached     bool
	Flags      []string
	LatencyMs  int64
	APIType    APIType
	IsError    bool
}

// RecordRequest performs every synchronous counter write for one request's
// outcome. Each write is independent and best-effort: a failure is logged
// and the remaining writes still proceed.
func (t *Tracker) RecordRequest(ctx context.Context, o Outcome) {
	t.incr(ctx, "stats:requests:total")
	if o.Blocked {
		t.incr(ctx, "stats:requests:blocked")
	}
	if o.Cached {
		t.incr(ctx, "stats:requests:cached")
	}
	if o.CallerID != "" {
		t.incr(ctx, fmt.Sprintf("stats:requests:user:%s", o.CallerID))
	}
	for _, flag := range o.Flags {
		t.incr(ctx, fmt.Sprintf("stats:flags:%s", flag))
	}

	if err := t.store.LPushTrim(ctx, "stats:latency:all", fmt.Sprintf("%d", o.LatencyMs), 2*LatencyRetention); err != nil {
		t.logger.Warnw("stats: failed to push latency sample", "error", err)
	}

	if o.APIType != "" {
		t.hincr(ctx, fmt.Sprintf("api:stats:%s", o.APIType), "calls", 1)
		if o.IsError {
			t.hincr(ctx, fmt.Sprintf("api:stats:%s", o.APIType), "errors", 1)
		}
		t.hincr(ctx, fmt.Sprintf("api:stats:%s", o.APIType), "total_time", o.LatencyMs)
	}
}

func (t *Tracker) incr(ctx context.Context, key string) {
	if _, err := t.store.Incr(ctx, key, 1); err != nil {
		t.logger.Warnw("stats: incr failed", "key", key, "error", err)
	}
}

func (t *Tracker) hincr(ctx context.Context, key, field string, delta int64) {
	if _, err := t.store.HIncrBy(ctx, key, field, delta); err != nil {
		t.logger.Warnw("stats: hincrby failed", "key", key, "field", field, "error", err)
	}
}

// Elapsed is a small helper for call sites building an Outcome.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

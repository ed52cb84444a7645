// Package monitoring exposes Prometheus metrics for the moderation service:
// cache hit/miss counters, pipeline stage latency, AI provider call outcomes,
// and aggregator run results. A registry plus a fixed set of
// CounterVec/HistogramVec/Gauge fields is constructed once and threaded
// through collaborators rather than accessed via package globals.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records against. A single
// instance is constructed in cmd/modgate/main.go and passed to any
// collaborator that needs to record an observation.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	pipelineLatency *prometheus.HistogramVec
	pipelineOutcome *prometheus.CounterVec

	aiCalls   *prometheus.CounterVec
	aiLatency *prometheus.HistogramVec

	rateLimitRejections *prometheus.CounterVec

	aggregatorRuns *prometheus.CounterVec
}

const namespace = "modgate"

// New constructs a Metrics instance and registers every collector against a
// fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache lookups that found a live entry, by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found no live entry, by cache name.",
		}, []string{"cache"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end filter decision pipeline latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		pipelineOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Completed pipeline runs by blocked/allowed/error outcome.",
		}, []string{"outcome"}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "AI provider calls by tier and result.",
		}, []string{"tier", "result"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_call_duration_seconds",
			Help:      "AI provider call latency by tier.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected for exceeding their rate limit, by route.",
		}, []string{"route"}),
		aggregatorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregator_runs_total",
			Help:      "Aggregation worker runs by rollup and result.",
		}, []string{"rollup", "result"}),
	}

	registry.MustRegister(
		m.cacheHits, m.cacheMisses,
		m.pipelineLatency, m.pipelineOutcome,
		m.aiCalls, m.aiLatency,
		m.rateLimitRejections,
		m.aggregatorRuns,
	)
	return m
}

// Handler returns the http.Handler serving this registry's metrics in the
// Prometheus exposition format, for mounting at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup increments the hit or miss counter for the named cache.
func (m *Metrics) RecordCacheLookup(cacheName string, hit bool) {
	if hit {
		m.cacheHits.WithLabelValues(cacheName).Inc()
		return
	}
	m.cacheMisses.WithLabelValues(cacheName).Inc()
}

// RecordPipelineRun observes one completed pipeline run's latency and
// outcome label ("blocked", "allowed", or "error").
func (m *Metrics) RecordPipelineRun(outcome string, seconds float64) {
	m.pipelineLatency.WithLabelValues(outcome).Observe(seconds)
	m.pipelineOutcome.WithLabelValues(outcome).Inc()
}

// RecordAICall observes one AI provider call's latency and result
// ("allowed", "blocked", or "error").
func (m *Metrics) RecordAICall(tier, result string, seconds float64) {
	m.aiCalls.WithLabelValues(tier, result).Inc()
	m.aiLatency.WithLabelValues(tier).Observe(seconds)
}

// RecordRateLimitRejection increments the rejection counter for route.
func (m *Metrics) RecordRateLimitRejection(route string) {
	m.rateLimitRejections.WithLabelValues(route).Inc()
}

// RecordAggregatorRun increments the run counter for rollup with result
// ("ok" or "error").
func (m *Metrics) RecordAggregatorRun(rollup, result string) {
	m.aggregatorRuns.WithLabelValues(rollup, result).Inc()
}

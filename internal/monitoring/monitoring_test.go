package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	assert.NotNil(t, m.registry)
	assert.NotNil(t, m.cacheHits)
	assert.NotNil(t, m.cacheMisses)
	assert.NotNil(t, m.pipelineLatency)
	assert.NotNil(t, m.pipelineOutcome)
	assert.NotNil(t, m.aiCalls)
	assert.NotNil(t, m.aiLatency)
	assert.NotNil(t, m.rateLimitRejections)
	assert.NotNil(t, m.aggregatorRuns)
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	m := New()
	m.RecordCacheLookup("route", true)
	m.RecordCacheLookup("route", false)
	m.RecordPipelineRun("allowed", 0.01)
	m.RecordAICall("fast", "allowed", 0.2)
	m.RecordRateLimitRejection("/v1/filter")
	m.RecordAggregatorRun("request_stats_daily", "ok")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "modgate_cache_hits_total"))
	assert.True(t, strings.Contains(body, "modgate_cache_misses_total"))
	assert.True(t, strings.Contains(body, "modgate_pipeline_requests_total"))
	assert.True(t, strings.Contains(body, "modgate_ai_calls_total"))
	assert.True(t, strings.Contains(body, "modgate_rate_limit_rejections_total"))
	assert.True(t, strings.Contains(body, "modgate_aggregator_runs_total"))
}

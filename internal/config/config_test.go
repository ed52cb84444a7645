package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), logger)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(100), cfg.RateLimitPerMinute)
	assert.Equal(t, 500, cfg.LatencySampleRetention)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "standard-moderation-v1", cfg.ModelNames["normal"])
}

func TestLoadConfigReadsYAMLFile(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
port: 9000
valkey_endpoint: "valkey:6379"
cors_origins:
  - "https://example.com"
`)

	cfg, err := LoadConfig(path, logger)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "valkey:6379", cfg.ValkeyEndpoint)
	assert.Equal(t, []string{"https://example.com"}, cfg.CORSOrigins)
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "port: 9000\n")

	t.Setenv("PORT", "9100")
	t.Setenv("ADMIN_TOKEN", "secret-token")
	t.Setenv("CORS_ORIGINS", "https://a.com,https://b.com")

	cfg, err := LoadConfig(path, logger)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "secret-token", cfg.AdminToken)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, cfg.CORSOrigins)
}

func TestLoadConfigFetchesRemoteSource(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer remote-token", r.Header.Get("Authorization"))
		w.Write([]byte("port: 7000\n"))
	}))
	defer server.Close()

	t.Setenv("CONFIG_SOURCE", server.URL)
	t.Setenv("CONFIG_TOKEN", "remote-token")

	cfg, err := LoadConfig("unused.yaml", logger)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestLoadConfigRemoteSourceErrorStatus(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Setenv("CONFIG_SOURCE", server.URL)

	_, err := LoadConfig("unused.yaml", logger)
	require.Error(t, err)
}

func TestAggregationIntervalDuration(t *testing.T) {
	cfg := &Config{AggregationInterval: "30m"}
	assert.Equal(t, 30*time.Minute, cfg.AggregationIntervalDuration())

	cfg.AggregationInterval = "not-a-duration"
	assert.Equal(t, time.Hour, cfg.AggregationIntervalDuration())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// Package config loads the service's configuration from a YAML file
// (optionally fetched over http(s) with a bearer token) overridden by
// environment variables, grounded on config/config.go's
// LoadConfig/fetchRemoteConfig shape: CONFIG_SOURCE/CONFIG_TOKEN select a
// remote source, env vars always take precedence over the YAML file.
package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yanolja/modgate/internal/utils/env"
)

// Config is the full application configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// ValkeyEndpoint is the distributed counter store / cache backend.
	// E.g., localhost:6379
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// DatabaseDSN is the Postgres connection string for internal/rollupdb.
	DatabaseDSN string `yaml:"database_dsn"`

	// CORSOrigins lists allowed CORS origins; "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// AdminToken gates privileged operations (POST /stats/aggregate). Empty
	// disables the admin path entirely.
	AdminToken string `yaml:"-"`

	// AIProviderBaseURL is the HTTP/JSON moderation endpoint's base URL.
	AIProviderBaseURL string `yaml:"ai_provider_base_url"`

	// AIProviderAPIKey authenticates against AIProviderBaseURL.
	AIProviderAPIKey string `yaml:"-"`

	// AIStreamBaseURL is the SSE streaming moderation endpoint's base URL.
	AIStreamBaseURL string `yaml:"ai_stream_base_url"`

	// ModelNames maps a tier ("fast", "normal", "pro") to the upstream
	// model identifier to request.
	ModelNames map[string]string `yaml:"model_names"`

	// RateLimitPerMinute bounds requests per identifier+route.
	RateLimitPerMinute int64 `yaml:"rate_limit_per_minute"`

	// LatencySampleRetention is loaded from YAML and the environment but is
	// not passed to any component: the stats tracker and the aggregator trim
	// latency samples by their own fixed constants (stats.LatencyRetention,
	// aggregator.LatencySampleRetention).
	LatencySampleRetention int `yaml:"latency_sample_retention"`

	// AggregationInterval is how often the aggregator worker runs
	// automatically. E.g., "1h"
	AggregationInterval string `yaml:"aggregation_interval"`
}

// LoadConfig loads the configuration from path (or CONFIG_SOURCE, an
// http(s) URL or local path, if set), then overrides it with environment
// variables.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	config := Config{
		Port:                   8080,
		RateLimitPerMinute:     100,
		LatencySampleRetention: 500,
		AggregationInterval:    "1h",
		ModelNames: map[string]string{
			"fast":   "fast-moderation-v1",
			"normal": "standard-moderation-v1",
			"pro":    "pro-moderation-v1",
		},
	}

	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")
	configData, err := loadConfigData(configSource, configToken, logger)
	if err != nil {
		return nil, fmt.Errorf("config: failed to get config data: %w", err)
	}

	if len(configData) > 0 {
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("config: failed to parse config: %w", err)
		}
	}

	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.DatabaseDSN = env.OptionalStringVariable("DATABASE_DSN", config.DatabaseDSN)
	config.AdminToken = env.OptionalStringVariable("ADMIN_TOKEN", config.AdminToken)
	config.AIProviderBaseURL = env.OptionalStringVariable("AI_PROVIDER_BASE_URL", config.AIProviderBaseURL)
	config.AIProviderAPIKey = env.OptionalStringVariable("AI_PROVIDER_API_KEY", config.AIProviderAPIKey)
	config.AIStreamBaseURL = env.OptionalStringVariable("AI_STREAM_BASE_URL", config.AIStreamBaseURL)
	config.RateLimitPerMinute = int64(env.OptionalIntVariable("RATE_LIMIT_PER_MINUTE", int(config.RateLimitPerMinute)))
	config.LatencySampleRetention = env.OptionalIntVariable("LATENCY_SAMPLE_RETENTION", config.LatencySampleRetention)
	config.AggregationInterval = env.OptionalStringVariable("AGGREGATION_INTERVAL", config.AggregationInterval)

	if origins := env.OptionalStringVariable("CORS_ORIGINS", ""); origins != "" {
		config.CORSOrigins = strings.Split(origins, ",")
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}

	return &config, nil
}

func loadConfigData(source, token string, logger *zap.SugaredLogger) ([]byte, error) {
	if source == "" {
		return nil, nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		logger.Infow("config: fetching remote config", "url", source)
		return fetchRemoteConfig(source, token)
	}
	logger.Infow("config: loading local config", "path", source)
	data, err := os.ReadFile(source)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func fetchRemoteConfig(url, token string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: fetch remote config: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// AggregationIntervalDuration parses AggregationInterval, defaulting to one
// hour on a malformed value.
func (c *Config) AggregationIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.AggregationInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

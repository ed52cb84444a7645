// Command modgate runs the content moderation HTTP service: it loads
// configuration, wires every collaborator (caches, counter store, rollup
// database, rate limiter, credential manager, AI provider registry, filter
// pipeline, aggregation worker, query service), mounts the HTTP router, and
// serves until an OS signal requests a graceful shutdown. Grounded on the
// reference main()'s load-config / construct-collaborators / serve-with-
// signal-triggered-shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/yanolja/modgate/internal/aggregator"
	"github.com/yanolja/modgate/internal/aiprovider"
	"github.com/yanolja/modgate/internal/aiprovider/chatapi"
	"github.com/yanolja/modgate/internal/aiprovider/streamchat"
	"github.com/yanolja/modgate/internal/cache"
	"github.com/yanolja/modgate/internal/config"
	"github.com/yanolja/modgate/internal/credential"
	"github.com/yanolja/modgate/internal/httpapi"
	"github.com/yanolja/modgate/internal/monitoring"
	"github.com/yanolja/modgate/internal/pipeline"
	"github.com/yanolja/modgate/internal/query"
	"github.com/yanolja/modgate/internal/ratelimit"
	"github.com/yanolja/modgate/internal/rollupdb"
	"github.com/yanolja/modgate/internal/stats"
	"github.com/yanolja/modgate/internal/store"

	"github.com/yanolja/modgate"
)

func main() {
	logger := mustLogger()
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := pflag.String("config", "config.yaml", "path to config file")
	migrateOnly := pflag.Bool("migrate-only", false, "run database migrations then exit")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("failed to load config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to open database", "error", err)
	}
	defer db.Close()

	if *migrateOnly {
		sugar.Infow("migrations applied, exiting")
		return
	}

	valkeyClient, closeValkey := openValkeyClient(cfg, sugar)
	defer closeValkey()

	counterStore := openCounterStore(valkeyClient, sugar)

	metrics := monitoring.New()

	routeCache := cache.New(cache.DefaultOptions("route"), logger.Sugar())
	aiCache := cache.New(cache.DefaultOptions("ai"), logger.Sugar())
	defer routeCache.Destroy()
	defer aiCache.Destroy()

	credStore := rollupdb.NewCredentialStore(db)
	credDistrib := openCredentialDistributedCache(valkeyClient)
	credManager := credential.NewManager(credStore, credDistrib, sugar)
	defer credManager.Destroy()

	limiter := ratelimit.New(openWindowCounter(valkeyClient), sugar)
	defer limiter.Stop()

	providers := buildProviderRegistry(cfg, sugar)

	tracker := stats.New(counterStore, sugar)

	rateCfg := pipeline.RateLimitConfig{Limit: cfg.RateLimitPerMinute, Window: time.Minute}
	pipe := pipeline.New(routeCache, aiCache, limiter, rateCfg, credManager, providers, tracker, sugar, metrics)

	rollups := rollupdb.NewRollupStore(db)
	aggWorker := aggregator.New(counterStore, rollups, sugar, metrics)
	go runAggregationSchedule(ctx, aggWorker, cfg.AggregationIntervalDuration(), sugar)

	querySvc := query.New(db, rollups, counterStore, sugar)
	defer querySvc.Destroy()

	server := httpapi.New(httpapi.Options{
		Pipeline:    pipe,
		Credentials: credManager,
		Query:       querySvc,
		Aggregator:  aggWorker,
		Metrics:     metrics,
		Logger:      sugar,
		AdminToken:  cfg.AdminToken,
		CORSOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("starting server", "address", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("failed to start server", "error", err)
	}
	sugar.Infow("server exited gracefully")
}

func mustLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*rollupdb.DB, error) {
	poolCfg := rollupdb.DefaultPoolConfig(cfg.DatabaseDSN)
	db, err := rollupdb.Open(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open rollup database: %w", err)
	}
	if err := rollupdb.Migrate(db.SQLX.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Infow("database ready", "dsn", cfg.DatabaseDSN)
	return db, nil
}

// openValkeyClient constructs the single valkey.Client shared by the
// counter store, the rate limiter's distributed window counter, and the
// credential manager's distributed cache tier, so all three collaborators
// talk to the same connection pool instead of each dialing their own.
func openValkeyClient(cfg *config.Config, logger *zap.SugaredLogger) (valkey.Client, func()) {
	if cfg.ValkeyEndpoint == "" {
		logger.Warnw("no valkey endpoint configured, falling back to in-process stores")
		return nil, func() {}
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.ValkeyEndpoint}})
	if err != nil {
		logger.Fatalw("failed to create valkey client", "error", err)
	}
	return client, client.Close
}

func openCounterStore(client valkey.Client, logger *zap.SugaredLogger) store.CounterStore {
	if client == nil {
		return store.NewMemoryStore()
	}
	return store.NewValkeyStore(client)
}

func openWindowCounter(client valkey.Client) ratelimit.WindowCounter {
	if client == nil {
		return ratelimit.NewMemoryWindowCounter()
	}
	return ratelimit.NewValkeyWindowCounter(client)
}

func openCredentialDistributedCache(client valkey.Client) credential.DistributedCache {
	if client == nil {
		return credential.NewMemoryDistributedCache()
	}
	return credential.NewValkeyDistributedCache(client)
}

// buildProviderRegistry constructs one aiprovider.Provider per configured
// model tier. The "fast" tier uses the SSE streaming transport
// (internal/aiprovider/streamchat) against cfg.AIStreamBaseURL when that URL
// is configured, trading one extra round of chunk-accumulation for a
// connection that starts returning tokens immediately; every other tier,
// and "fast" itself when no stream endpoint is configured, uses the
// HTTP/JSON transport (internal/aiprovider/chatapi).
func buildProviderRegistry(cfg *config.Config, logger *zap.SugaredLogger) *aiprovider.Registry {
	byTier := make(map[modgate.ModelTier]aiprovider.Provider)
	for tier, model := range cfg.ModelNames {
		modelTier := modgate.ModelTier(tier)

		if modelTier == modgate.TierFast && cfg.AIStreamBaseURL != "" {
			endpoint, err := streamchat.NewEndpoint(cfg.AIStreamBaseURL, cfg.AIProviderAPIKey, model, logger)
			if err != nil {
				logger.Fatalw("failed to construct streaming AI provider endpoint", "tier", tier, "error", err)
			}
			byTier[modelTier] = endpoint
			continue
		}

		endpoint, err := chatapi.NewEndpoint(cfg.AIProviderBaseURL, cfg.AIProviderAPIKey, model, logger)
		if err != nil {
			logger.Fatalw("failed to construct AI provider endpoint", "tier", tier, "error", err)
		}
		byTier[modelTier] = endpoint
	}
	return aiprovider.NewRegistry(byTier)
}

func runAggregationSchedule(ctx context.Context, worker *aggregator.Worker, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report := worker.Run(ctx, true)
			if !report.Success {
				logger.Warnw("scheduled aggregation run had failures", "tasks", report.Tasks)
			}
		case <-ctx.Done():
			return
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	jsonfileAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/jsonfile"
	mem "github.com/vajjipartisatwikraj/scope-codestats/adapters/memory"
	redisAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/redis"
	sqlxAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/sqlx"
	"github.com/vajjipartisatwikraj/scope-codestats/aggregate"
	"github.com/vajjipartisatwikraj/scope-codestats/api/httpapi"
	"github.com/vajjipartisatwikraj/scope-codestats/config"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/governor"
	"github.com/vajjipartisatwikraj/scope-codestats/integrations/webhook"
	"github.com/vajjipartisatwikraj/scope-codestats/leaderboard"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codechef"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codeforces"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/geeksforgeeks"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/github"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/hackerrank"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/leetcode"
	"github.com/vajjipartisatwikraj/scope-codestats/realtime"
	"github.com/vajjipartisatwikraj/scope-codestats/stats"
	"github.com/vajjipartisatwikraj/scope-codestats/syncer"
)

// Storage is the full persistence surface the server needs.
type Storage interface {
	syncer.ProfileStore
	syncer.UserStore
	ListAggregates(ctx context.Context) ([]core.AggregateScore, error)
}

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Metrics *stats.SyncMetrics
	Service *syncer.Service
	Cron    *cron.Cron
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	if path := os.Getenv("CODESTATS_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideMetrics() *stats.SyncMetrics {
	return stats.NewSyncMetrics()
}

func provideStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	return setupStorage(ctx, cfg)
}

func provideBoard(ctx context.Context, storage Storage) (leaderboard.Board, error) {
	board := leaderboard.NewSkipList()
	aggs, err := storage.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed leaderboard: %w", err)
	}
	for _, a := range aggs {
		board.Update(a.UserID, a.TotalScore)
	}
	return board, nil
}

func provideGovernor(cfg *config.Config) *governor.Governor {
	limits := make(map[core.Platform]governor.Limits, len(cfg.Sync.Limits))
	for name, lc := range cfg.Sync.Limits {
		platform, err := core.ParsePlatform(name)
		if err != nil {
			continue
		}
		limits[platform] = governor.Limits{
			MinInterval:   lc.MinInterval,
			MaxConcurrent: lc.MaxConcurrent,
			Cooldown:      lc.Cooldown,
		}
	}
	var opts []governor.Option
	if cfg.Sync.DefaultCooldown > 0 {
		opts = append(opts, governor.WithDefaultCooldown(cfg.Sync.DefaultCooldown))
	}
	return governor.New(limits, opts...)
}

func provideFetchers(cfg *config.Config) map[core.Platform]syncer.Fetcher {
	timeout := cfg.Platforms.RequestTimeout
	all := []syncer.Fetcher{
		leetcode.New(leetcode.Config{Timeout: timeout}),
		codeforces.New(codeforces.Config{Timeout: timeout}),
		codechef.New(codechef.Config{Timeout: timeout}),
		geeksforgeeks.New(geeksforgeeks.Config{Timeout: timeout}),
		hackerrank.New(hackerrank.Config{Timeout: timeout}),
		github.New(github.Config{Timeout: timeout, Token: cfg.Platforms.GitHubToken}),
	}

	disabled := make(map[core.Platform]bool, len(cfg.Platforms.Disabled))
	for _, name := range cfg.Platforms.Disabled {
		if p, err := core.ParsePlatform(name); err == nil {
			disabled[p] = true
		}
	}

	fetchers := make(map[core.Platform]syncer.Fetcher, len(all))
	for _, f := range all {
		if !disabled[f.Platform()] {
			fetchers[f.Platform()] = f
		}
	}
	return fetchers
}

func provideService(cfg *config.Config, fetchers map[core.Platform]syncer.Fetcher, storage Storage, gov *governor.Governor, board leaderboard.Board, hub *realtime.Hub, metrics *stats.SyncMetrics, logger *slog.Logger) *syncer.Service {
	agg := aggregate.New(storage, storage, aggregate.WithBoard(board))
	bus := syncer.NewEventBus(syncer.DispatchAsync)

	svc := syncer.NewService(fetchers, storage, storage, gov, agg, bus, logger,
		syncer.WithFleetConfig(syncer.FleetConfig{
			BatchSize:  cfg.Sync.BatchSize,
			BatchPause: cfg.Sync.BatchPause,
			MaxJitter:  cfg.Sync.MaxJitter,
		}))

	// fan every domain event out to WebSocket clients and counters
	bus.SubscribeAll(hub.Broadcast)
	bus.SubscribeAll(func(_ context.Context, e core.SyncEvent) { metrics.OnEvent(e) })

	if len(cfg.Integrations.WebhookURLs) > 0 {
		var whOpts []webhook.Option
		if cfg.Integrations.WebhookSecret != "" {
			whOpts = append(whOpts, webhook.WithSecret(cfg.Integrations.WebhookSecret))
		}
		sink := webhook.New(cfg.Integrations.WebhookURLs, whOpts...)
		bus.SubscribeAll(func(_ context.Context, e core.SyncEvent) { sink.OnEvent(e) })
	}

	return svc
}

func provideCron(cfg *config.Config, svc *syncer.Service, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	if cfg.Sync.FleetCron == "" {
		return c, nil
	}
	_, err := c.AddFunc(cfg.Sync.FleetCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
		defer cancel()
		report, err := svc.RunFleetSync(ctx)
		if err != nil {
			logger.Error("scheduled fleet sync failed", "error", err)
			return
		}
		logger.Info("scheduled fleet sync finished",
			"users", report.TotalUsers,
			"updated", report.UpdatedProfiles,
			"failed", report.FailedProfiles,
			"skipped", report.SkippedUsers,
			"duration", report.Duration())
	})
	if err != nil {
		return nil, fmt.Errorf("schedule fleet sync: %w", err)
	}
	return c, nil
}

func provideHandler(cfg *config.Config, svc *syncer.Service, storage Storage, board leaderboard.Board, metrics *stats.SyncMetrics, hub *realtime.Hub) http.Handler {
	return httpapi.NewMux(httpapi.Deps{
		Sync:     svc,
		Profiles: storage,
		Users:    storage,
		Board:    board,
		Metrics:  metrics,
		Hub:      hub,
	}, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		store, err := sqlxAdapter.Open(cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "file":
		return jsonfileAdapter.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

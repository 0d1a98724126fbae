// Package codestats is the library entry point: one call builds a
// fully wired sync service over pluggable storage and fetchers.
package codestats

import (
	"io"
	"log/slog"
	"time"

	mem "github.com/vajjipartisatwikraj/scope-codestats/adapters/memory"
	"github.com/vajjipartisatwikraj/scope-codestats/aggregate"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/governor"
	"github.com/vajjipartisatwikraj/scope-codestats/leaderboard"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codechef"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codeforces"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/geeksforgeeks"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/github"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/hackerrank"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/leetcode"
	"github.com/vajjipartisatwikraj/scope-codestats/realtime"
	"github.com/vajjipartisatwikraj/scope-codestats/syncer"
)

// Storage is the persistence surface the facade needs.
type Storage interface {
	syncer.ProfileStore
	syncer.UserStore
}

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage  Storage
	mode     syncer.DispatchMode
	hub      *realtime.Hub
	board    leaderboard.Board
	limits   map[core.Platform]governor.Limits
	fetchers map[core.Platform]syncer.Fetcher
	fleet    *syncer.FleetConfig
	logger   *slog.Logger
}

// WithStorage sets the persistence adapter.
func WithStorage(s Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m syncer.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all sync events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithBoard pushes recomputed totals to a leaderboard.
func WithBoard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithLimits tunes per-platform request pacing. Entries override the
// built-in defaults platform by platform.
func WithLimits(limits map[core.Platform]governor.Limits) Option {
	return func(c *config) { c.limits = limits }
}

// WithFetcher overrides or adds a single platform adapter.
func WithFetcher(f syncer.Fetcher) Option {
	return func(c *config) {
		if c.fetchers == nil {
			c.fetchers = make(map[core.Platform]syncer.Fetcher)
		}
		c.fetchers[f.Platform()] = f
	}
}

// WithFleetConfig tunes full-fleet batch runs.
func WithFleetConfig(fc syncer.FleetConfig) Option { return func(c *config) { c.fleet = &fc } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New builds a configured sync service. Defaults when not provided:
//   - storage: in-memory
//   - dispatch: async
//   - fetchers: all six platform adapters with default endpoints
func New(opts ...Option) *syncer.Service {
	cfg := &config{mode: syncer.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fetchers := defaultFetchers()
	for p, f := range cfg.fetchers {
		fetchers[p] = f
	}

	limits := defaultLimits()
	for p, l := range cfg.limits {
		limits[p] = l
	}
	gov := governor.New(limits)
	bus := syncer.NewEventBus(cfg.mode)

	var aggOpts []aggregate.Option
	if cfg.board != nil {
		aggOpts = append(aggOpts, aggregate.WithBoard(cfg.board))
	}
	agg := aggregate.New(cfg.storage, cfg.storage, aggOpts...)

	var svcOpts []syncer.ServiceOption
	if cfg.fleet != nil {
		svcOpts = append(svcOpts, syncer.WithFleetConfig(*cfg.fleet))
	}

	svc := syncer.NewService(fetchers, cfg.storage, cfg.storage, gov, agg, bus, cfg.logger, svcOpts...)
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	return svc
}

// defaultLimits carries the pacing upstreams publish as policy.
// Codeforces allows one request every two seconds.
func defaultLimits() map[core.Platform]governor.Limits {
	return map[core.Platform]governor.Limits{
		core.PlatformCodeforces: {MinInterval: 2 * time.Second, MaxConcurrent: 1},
	}
}

// defaultFetchers builds all six adapters with default endpoints.
func defaultFetchers() map[core.Platform]syncer.Fetcher {
	all := []syncer.Fetcher{
		leetcode.New(leetcode.Config{}),
		codeforces.New(codeforces.Config{}),
		codechef.New(codechef.Config{}),
		geeksforgeeks.New(geeksforgeeks.Config{}),
		hackerrank.New(hackerrank.Config{}),
		github.New(github.Config{}),
	}
	m := make(map[core.Platform]syncer.Fetcher, len(all))
	for _, f := range all {
		m[f.Platform()] = f
	}
	return m
}

// Command codestats-sync runs a one-shot sync from the terminal: a
// single user, a subset of platforms, or the whole fleet. It shares
// the server's configuration and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	jsonfileAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/jsonfile"
	mem "github.com/vajjipartisatwikraj/scope-codestats/adapters/memory"
	redisAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/redis"
	sqlxAdapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/sqlx"
	"github.com/vajjipartisatwikraj/scope-codestats/aggregate"
	"github.com/vajjipartisatwikraj/scope-codestats/config"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/governor"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codechef"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/codeforces"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/geeksforgeeks"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/github"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/hackerrank"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/leetcode"
	"github.com/vajjipartisatwikraj/scope-codestats/syncer"
)

type storage interface {
	syncer.ProfileStore
	syncer.UserStore
}

func main() {
	var (
		user      = flag.String("user", "", "sync a single user id")
		platforms = flag.String("platforms", "", "comma-separated platform subset (with -user)")
		fleet     = flag.Bool("fleet", false, "sync every registered user in batches")
		register  = flag.String("register", "", "register platform=username for -user before syncing")
		timeout   = flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	)
	flag.Parse()

	if *user == "" && !*fleet {
		fmt.Fprintln(os.Stderr, "usage: codestats-sync -user <id> [-platforms p1,p2] [-register platform=username] | -fleet")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := loadConfig()
	if err != nil {
		fatal("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store, err := openStorage(cfg)
	if err != nil {
		fatal("open storage: %v", err)
	}

	svc := buildService(cfg, store, logger)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *register != "" {
		if err := registerHandle(ctx, svc, core.UserID(*user), *register); err != nil {
			fatal("register: %v", err)
		}
	}

	var out any
	if *fleet {
		report, err := svc.RunFleetSync(ctx)
		if err != nil {
			fatal("fleet sync: %v", err)
		}
		out = report
	} else {
		var subset []core.Platform
		if *platforms != "" {
			for _, name := range strings.Split(*platforms, ",") {
				p, err := core.ParsePlatform(strings.TrimSpace(name))
				if err != nil {
					fatal("%v", err)
				}
				subset = append(subset, p)
			}
		}
		res, err := svc.SyncUser(ctx, core.UserID(*user), subset...)
		if err != nil {
			fatal("sync user: %v", err)
		}
		out = res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal("encode result: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CODESTATS_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openStorage(cfg *config.Config) (storage, error) {
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
		if err := store.Migrate(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	case "file":
		return jsonfileAdapter.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

func buildService(cfg *config.Config, store storage, logger *slog.Logger) *syncer.Service {
	limits := make(map[core.Platform]governor.Limits, len(cfg.Sync.Limits))
	for name, lc := range cfg.Sync.Limits {
		if p, err := core.ParsePlatform(name); err == nil {
			limits[p] = governor.Limits{
				MinInterval:   lc.MinInterval,
				MaxConcurrent: lc.MaxConcurrent,
				Cooldown:      lc.Cooldown,
			}
		}
	}
	var govOpts []governor.Option
	if cfg.Sync.DefaultCooldown > 0 {
		govOpts = append(govOpts, governor.WithDefaultCooldown(cfg.Sync.DefaultCooldown))
	}
	gov := governor.New(limits, govOpts...)

	timeout := cfg.Platforms.RequestTimeout
	disabled := make(map[core.Platform]bool, len(cfg.Platforms.Disabled))
	for _, name := range cfg.Platforms.Disabled {
		if p, err := core.ParsePlatform(name); err == nil {
			disabled[p] = true
		}
	}
	fetchers := make(map[core.Platform]syncer.Fetcher)
	for _, f := range []syncer.Fetcher{
		leetcode.New(leetcode.Config{Timeout: timeout}),
		codeforces.New(codeforces.Config{Timeout: timeout}),
		codechef.New(codechef.Config{Timeout: timeout}),
		geeksforgeeks.New(geeksforgeeks.Config{Timeout: timeout}),
		hackerrank.New(hackerrank.Config{Timeout: timeout}),
		github.New(github.Config{Timeout: timeout, Token: cfg.Platforms.GitHubToken}),
	} {
		if !disabled[f.Platform()] {
			fetchers[f.Platform()] = f
		}
	}

	agg := aggregate.New(store, store)
	bus := syncer.NewEventBus(syncer.DispatchSync)

	return syncer.NewService(fetchers, store, store, gov, agg, bus, logger,
		syncer.WithFleetConfig(syncer.FleetConfig{
			BatchSize:  cfg.Sync.BatchSize,
			BatchPause: cfg.Sync.BatchPause,
			MaxJitter:  cfg.Sync.MaxJitter,
		}))
}

func registerHandle(ctx context.Context, svc *syncer.Service, user core.UserID, spec string) error {
	platform, username, ok := strings.Cut(spec, "=")
	if !ok {
		return fmt.Errorf("expected platform=username, got %q", spec)
	}
	p, err := core.ParsePlatform(platform)
	if err != nil {
		return err
	}
	_, err = svc.RegisterUsername(ctx, user, p, username)
	return err
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

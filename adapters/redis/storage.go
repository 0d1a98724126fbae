package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the profile and user stores on Redis.
// Data structure:
// - profile:{user}:{platform} -> JSON blob of PlatformProfile
// - user:{user}:platforms     -> set of platform names
// - users                     -> set of user ids
// - agg:{user}                -> JSON blob of AggregateScore
// - scores                    -> sorted set of aggregate totals
type Store struct {
	client *redis.Client
}

// New creates a Redis-backed store and verifies the connection.
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &core.StoreError{Op: "connect", Err: err}
	}
	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func profileKey(user core.UserID, platform core.Platform) string {
	return fmt.Sprintf("profile:%s:%s", user, platform)
}

func userPlatformsKey(user core.UserID) string {
	return fmt.Sprintf("user:%s:platforms", user)
}

func aggKey(user core.UserID) string {
	return fmt.Sprintf("agg:%s", user)
}

const usersKey = "users"
const scoresKey = "scores"

func (s *Store) GetProfile(ctx context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error) {
	data, err := s.client.Get(ctx, profileKey(user, platform)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.PlatformProfile{}, core.ErrNotFound
	}
	if err != nil {
		return core.PlatformProfile{}, &core.StoreError{Op: "get profile", Err: err}
	}
	var p core.PlatformProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return core.PlatformProfile{}, &core.StoreError{Op: "decode profile", Err: err}
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p core.PlatformProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return &core.StoreError{Op: "encode profile", Err: err}
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, profileKey(p.UserID, p.Platform), data, 0)
	pipe.SAdd(ctx, userPlatformsKey(p.UserID), string(p.Platform))
	pipe.SAdd(ctx, usersKey, string(p.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreError{Op: "upsert profile", Err: err}
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, user core.UserID, platform core.Platform) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, profileKey(user, platform))
	pipe.SRem(ctx, userPlatformsKey(user), string(platform))
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreError{Op: "delete profile", Err: err}
	}
	return nil
}

func (s *Store) ListProfiles(ctx context.Context, user core.UserID) ([]core.PlatformProfile, error) {
	names, err := s.client.SMembers(ctx, userPlatformsKey(user)).Result()
	if err != nil {
		return nil, &core.StoreError{Op: "list profiles", Err: err}
	}
	out := make([]core.PlatformProfile, 0, len(names))
	for _, name := range names {
		p, err := s.GetProfile(ctx, user, core.Platform(name))
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, &core.StoreError{Op: "list users", Err: err}
	}
	out := make([]core.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.UserID(id))
	}
	return out, nil
}

func (s *Store) GetAggregate(ctx context.Context, user core.UserID) (core.AggregateScore, error) {
	data, err := s.client.Get(ctx, aggKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AggregateScore{}, core.ErrNotFound
	}
	if err != nil {
		return core.AggregateScore{}, &core.StoreError{Op: "get aggregate", Err: err}
	}
	var agg core.AggregateScore
	if err := json.Unmarshal(data, &agg); err != nil {
		return core.AggregateScore{}, &core.StoreError{Op: "decode aggregate", Err: err}
	}
	return agg, nil
}

func (s *Store) PutAggregate(ctx context.Context, agg core.AggregateScore) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return &core.StoreError{Op: "encode aggregate", Err: err}
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, aggKey(agg.UserID), data, 0)
	pipe.ZAdd(ctx, scoresKey, redis.Z{Score: agg.TotalScore, Member: string(agg.UserID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreError{Op: "put aggregate", Err: err}
	}
	return nil
}

func (s *Store) ListAggregates(ctx context.Context) ([]core.AggregateScore, error) {
	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, &core.StoreError{Op: "list aggregates", Err: err}
	}
	out := make([]core.AggregateScore, 0, len(ids))
	for _, id := range ids {
		agg, err := s.GetAggregate(ctx, core.UserID(id))
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// TopScores reads the highest aggregate totals straight from the sorted
// set, without deserializing full aggregates.
func (s *Store) TopScores(ctx context.Context, n int) ([]redis.Z, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, scoresKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, &core.StoreError{Op: "top scores", Err: err}
	}
	return zs, nil
}

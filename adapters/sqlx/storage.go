package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	libsqlx "github.com/jmoiron/sqlx"

	// driver registration for the supported dialects
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Driver selects upsert syntax.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects using the configuration and verifies the connection.
func Open(cfg Config) (*Store, error) {
	if err := ValidateDriver(cfg.Driver); err != nil {
		return nil, &core.StoreError{Op: "connect", Err: err}
	}
	db, err := libsqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, &core.StoreError{Op: "connect", Err: err}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// Store implements the profile and user stores on a SQL database via
// sqlx. Postgres and MySQL are supported.
type Store struct {
	db     *libsqlx.DB
	driver Driver
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *libsqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS platform_profiles (
	user_id             TEXT NOT NULL,
	platform            TEXT NOT NULL,
	username            TEXT NOT NULL DEFAULT '',
	score               DOUBLE PRECISION NOT NULL DEFAULT 0,
	solved_total        BIGINT NOT NULL DEFAULT 0,
	solved_buckets      TEXT NOT NULL DEFAULT '{}',
	rating              DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
	rank                TEXT NOT NULL DEFAULT '',
	contests            BIGINT NOT NULL DEFAULT 0,
	last_updated        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_update_status  TEXT NOT NULL DEFAULT 'pending',
	last_update_error   TEXT NOT NULL DEFAULT '',
	last_update_attempt TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_attempts     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, platform)
);
CREATE TABLE IF NOT EXISTS aggregate_scores (
	user_id        TEXT PRIMARY KEY,
	total_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_solved   BIGINT NOT NULL DEFAULT 0,
	total_contests BIGINT NOT NULL DEFAULT 0,
	buckets        TEXT NOT NULL DEFAULT '{}',
	computed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const schemaMySQL = `
CREATE TABLE IF NOT EXISTS platform_profiles (
	user_id             VARCHAR(128) NOT NULL,
	platform            VARCHAR(32) NOT NULL,
	username            VARCHAR(128) NOT NULL DEFAULT '',
	score               DOUBLE NOT NULL DEFAULT 0,
	solved_total        BIGINT NOT NULL DEFAULT 0,
	solved_buckets      TEXT NOT NULL,
	rating              DOUBLE NOT NULL DEFAULT 0,
	max_rating          DOUBLE NOT NULL DEFAULT 0,
	` + "`rank`" + `              VARCHAR(64) NOT NULL DEFAULT '',
	contests            BIGINT NOT NULL DEFAULT 0,
	last_updated        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_update_status  VARCHAR(16) NOT NULL DEFAULT 'pending',
	last_update_error   TEXT NOT NULL,
	last_update_attempt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	update_attempts     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, platform)
);
CREATE TABLE IF NOT EXISTS aggregate_scores (
	user_id        VARCHAR(128) PRIMARY KEY,
	total_score    DOUBLE NOT NULL DEFAULT 0,
	total_solved   BIGINT NOT NULL DEFAULT 0,
	total_contests BIGINT NOT NULL DEFAULT 0,
	buckets        TEXT NOT NULL,
	computed_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaPostgres
	if s.driver == DriverMySQL {
		schema = schemaMySQL
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &core.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

type profileRow struct {
	UserID            string    `db:"user_id"`
	Platform          string    `db:"platform"`
	Username          string    `db:"username"`
	Score             float64   `db:"score"`
	SolvedTotal       int64     `db:"solved_total"`
	SolvedBuckets     string    `db:"solved_buckets"`
	Rating            float64   `db:"rating"`
	MaxRating         float64   `db:"max_rating"`
	Rank              string    `db:"rank"`
	Contests          int64     `db:"contests"`
	LastUpdated       time.Time `db:"last_updated"`
	LastUpdateStatus  string    `db:"last_update_status"`
	LastUpdateError   string    `db:"last_update_error"`
	LastUpdateAttempt time.Time `db:"last_update_attempt"`
	UpdateAttempts    int64     `db:"update_attempts"`
}

func toRow(p core.PlatformProfile) (profileRow, error) {
	buckets := p.Solved.Buckets
	if buckets == nil {
		buckets = map[string]int64{}
	}
	b, err := json.Marshal(buckets)
	if err != nil {
		return profileRow{}, err
	}
	return profileRow{
		UserID:            string(p.UserID),
		Platform:          string(p.Platform),
		Username:          p.Username,
		Score:             p.Score,
		SolvedTotal:       p.Solved.Total,
		SolvedBuckets:     string(b),
		Rating:            p.Rating,
		MaxRating:         p.MaxRating,
		Rank:              p.Rank,
		Contests:          p.Contests,
		LastUpdated:       p.LastUpdated.UTC(),
		LastUpdateStatus:  string(p.LastUpdateStatus),
		LastUpdateError:   p.LastUpdateError,
		LastUpdateAttempt: p.LastUpdateAttempt.UTC(),
		UpdateAttempts:    p.UpdateAttempts,
	}, nil
}

func (r profileRow) toProfile() (core.PlatformProfile, error) {
	buckets := map[string]int64{}
	if r.SolvedBuckets != "" {
		if err := json.Unmarshal([]byte(r.SolvedBuckets), &buckets); err != nil {
			return core.PlatformProfile{}, err
		}
	}
	return core.PlatformProfile{
		UserID:            core.UserID(r.UserID),
		Platform:          core.Platform(r.Platform),
		Username:          r.Username,
		Score:             r.Score,
		Solved:            core.SolvedBreakdown{Total: r.SolvedTotal, Buckets: buckets},
		Rating:            r.Rating,
		MaxRating:         r.MaxRating,
		Rank:              r.Rank,
		Contests:          r.Contests,
		LastUpdated:       r.LastUpdated,
		LastUpdateStatus:  core.UpdateStatus(r.LastUpdateStatus),
		LastUpdateError:   r.LastUpdateError,
		LastUpdateAttempt: r.LastUpdateAttempt,
		UpdateAttempts:    r.UpdateAttempts,
	}, nil
}

const selectProfile = `SELECT user_id, platform, username, score, solved_total, solved_buckets,
	rating, max_rating, rank, contests, last_updated, last_update_status,
	last_update_error, last_update_attempt, update_attempts
	FROM platform_profiles`

func (s *Store) GetProfile(ctx context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error) {
	var row profileRow
	q := s.db.Rebind(selectProfile + ` WHERE user_id = ? AND platform = ?`)
	err := s.db.GetContext(ctx, &row, q, string(user), string(platform))
	if errors.Is(err, sql.ErrNoRows) {
		return core.PlatformProfile{}, core.ErrNotFound
	}
	if err != nil {
		return core.PlatformProfile{}, &core.StoreError{Op: "get profile", Err: err}
	}
	p, err := row.toProfile()
	if err != nil {
		return core.PlatformProfile{}, &core.StoreError{Op: "decode profile", Err: err}
	}
	return p, nil
}

const upsertProfilePG = `INSERT INTO platform_profiles
	(user_id, platform, username, score, solved_total, solved_buckets, rating, max_rating,
	 rank, contests, last_updated, last_update_status, last_update_error, last_update_attempt, update_attempts)
	VALUES (:user_id, :platform, :username, :score, :solved_total, :solved_buckets, :rating, :max_rating,
	 :rank, :contests, :last_updated, :last_update_status, :last_update_error, :last_update_attempt, :update_attempts)
	ON CONFLICT (user_id, platform) DO UPDATE SET
	 username = EXCLUDED.username, score = EXCLUDED.score,
	 solved_total = EXCLUDED.solved_total, solved_buckets = EXCLUDED.solved_buckets,
	 rating = EXCLUDED.rating, max_rating = EXCLUDED.max_rating,
	 rank = EXCLUDED.rank, contests = EXCLUDED.contests,
	 last_updated = EXCLUDED.last_updated, last_update_status = EXCLUDED.last_update_status,
	 last_update_error = EXCLUDED.last_update_error, last_update_attempt = EXCLUDED.last_update_attempt,
	 update_attempts = EXCLUDED.update_attempts`

const upsertProfileMySQL = `INSERT INTO platform_profiles
	(user_id, platform, username, score, solved_total, solved_buckets, rating, max_rating,
	 ` + "`rank`" + `, contests, last_updated, last_update_status, last_update_error, last_update_attempt, update_attempts)
	VALUES (:user_id, :platform, :username, :score, :solved_total, :solved_buckets, :rating, :max_rating,
	 :rank, :contests, :last_updated, :last_update_status, :last_update_error, :last_update_attempt, :update_attempts)
	ON DUPLICATE KEY UPDATE
	 username = VALUES(username), score = VALUES(score),
	 solved_total = VALUES(solved_total), solved_buckets = VALUES(solved_buckets),
	 rating = VALUES(rating), max_rating = VALUES(max_rating),
	 ` + "`rank`" + ` = VALUES(` + "`rank`" + `), contests = VALUES(contests),
	 last_updated = VALUES(last_updated), last_update_status = VALUES(last_update_status),
	 last_update_error = VALUES(last_update_error), last_update_attempt = VALUES(last_update_attempt),
	 update_attempts = VALUES(update_attempts)`

func (s *Store) UpsertProfile(ctx context.Context, p core.PlatformProfile) error {
	row, err := toRow(p)
	if err != nil {
		return &core.StoreError{Op: "encode profile", Err: err}
	}
	q := upsertProfilePG
	if s.driver == DriverMySQL {
		q = upsertProfileMySQL
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return &core.StoreError{Op: "upsert profile", Err: err}
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, user core.UserID, platform core.Platform) error {
	q := s.db.Rebind(`DELETE FROM platform_profiles WHERE user_id = ? AND platform = ?`)
	if _, err := s.db.ExecContext(ctx, q, string(user), string(platform)); err != nil {
		return &core.StoreError{Op: "delete profile", Err: err}
	}
	return nil
}

func (s *Store) ListProfiles(ctx context.Context, user core.UserID) ([]core.PlatformProfile, error) {
	var rows []profileRow
	q := s.db.Rebind(selectProfile + ` WHERE user_id = ? ORDER BY platform`)
	if err := s.db.SelectContext(ctx, &rows, q, string(user)); err != nil {
		return nil, &core.StoreError{Op: "list profiles", Err: err}
	}
	out := make([]core.PlatformProfile, 0, len(rows))
	for _, row := range rows {
		p, err := row.toProfile()
		if err != nil {
			return nil, &core.StoreError{Op: "decode profile", Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT user_id FROM platform_profiles ORDER BY user_id`); err != nil {
		return nil, &core.StoreError{Op: "list users", Err: err}
	}
	out := make([]core.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.UserID(id))
	}
	return out, nil
}

type aggregateRow struct {
	UserID        string    `db:"user_id"`
	TotalScore    float64   `db:"total_score"`
	TotalSolved   int64     `db:"total_solved"`
	TotalContests int64     `db:"total_contests"`
	Buckets       string    `db:"buckets"`
	ComputedAt    time.Time `db:"computed_at"`
}

const selectAggregate = `SELECT user_id, total_score, total_solved, total_contests, buckets, computed_at
	FROM aggregate_scores`

func (s *Store) GetAggregate(ctx context.Context, user core.UserID) (core.AggregateScore, error) {
	var row aggregateRow
	q := s.db.Rebind(selectAggregate + ` WHERE user_id = ?`)
	err := s.db.GetContext(ctx, &row, q, string(user))
	if errors.Is(err, sql.ErrNoRows) {
		return core.AggregateScore{}, core.ErrNotFound
	}
	if err != nil {
		return core.AggregateScore{}, &core.StoreError{Op: "get aggregate", Err: err}
	}
	return row.toAggregate()
}

func (r aggregateRow) toAggregate() (core.AggregateScore, error) {
	buckets := map[string]int64{}
	if r.Buckets != "" {
		if err := json.Unmarshal([]byte(r.Buckets), &buckets); err != nil {
			return core.AggregateScore{}, &core.StoreError{Op: "decode aggregate", Err: err}
		}
	}
	return core.AggregateScore{
		UserID:        core.UserID(r.UserID),
		TotalScore:    r.TotalScore,
		TotalSolved:   r.TotalSolved,
		TotalContests: r.TotalContests,
		Buckets:       buckets,
		ComputedAt:    r.ComputedAt,
	}, nil
}

const upsertAggregatePG = `INSERT INTO aggregate_scores
	(user_id, total_score, total_solved, total_contests, buckets, computed_at)
	VALUES (:user_id, :total_score, :total_solved, :total_contests, :buckets, :computed_at)
	ON CONFLICT (user_id) DO UPDATE SET
	 total_score = EXCLUDED.total_score, total_solved = EXCLUDED.total_solved,
	 total_contests = EXCLUDED.total_contests, buckets = EXCLUDED.buckets,
	 computed_at = EXCLUDED.computed_at`

const upsertAggregateMySQL = `INSERT INTO aggregate_scores
	(user_id, total_score, total_solved, total_contests, buckets, computed_at)
	VALUES (:user_id, :total_score, :total_solved, :total_contests, :buckets, :computed_at)
	ON DUPLICATE KEY UPDATE
	 total_score = VALUES(total_score), total_solved = VALUES(total_solved),
	 total_contests = VALUES(total_contests), buckets = VALUES(buckets),
	 computed_at = VALUES(computed_at)`

func (s *Store) PutAggregate(ctx context.Context, agg core.AggregateScore) error {
	buckets := agg.Buckets
	if buckets == nil {
		buckets = map[string]int64{}
	}
	b, err := json.Marshal(buckets)
	if err != nil {
		return &core.StoreError{Op: "encode aggregate", Err: err}
	}
	row := aggregateRow{
		UserID:        string(agg.UserID),
		TotalScore:    agg.TotalScore,
		TotalSolved:   agg.TotalSolved,
		TotalContests: agg.TotalContests,
		Buckets:       string(b),
		ComputedAt:    agg.ComputedAt.UTC(),
	}
	q := upsertAggregatePG
	if s.driver == DriverMySQL {
		q = upsertAggregateMySQL
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return &core.StoreError{Op: "put aggregate", Err: err}
	}
	return nil
}

func (s *Store) ListAggregates(ctx context.Context) ([]core.AggregateScore, error) {
	var rows []aggregateRow
	if err := s.db.SelectContext(ctx, &rows, selectAggregate+` ORDER BY total_score DESC`); err != nil {
		return nil, &core.StoreError{Op: "list aggregates", Err: err}
	}
	out := make([]core.AggregateScore, 0, len(rows))
	for _, row := range rows {
		agg, err := row.toAggregate()
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// TopAggregates reads the highest totals directly from SQL, for
// leaderboard seeding at startup.
func (s *Store) TopAggregates(ctx context.Context, n int) ([]core.AggregateScore, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []aggregateRow
	q := s.db.Rebind(selectAggregate + ` ORDER BY total_score DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, n); err != nil {
		return nil, &core.StoreError{Op: "top aggregates", Err: err}
	}
	out := make([]core.AggregateScore, 0, len(rows))
	for _, row := range rows {
		agg, err := row.toAggregate()
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

var errUnsupportedDriver = fmt.Errorf("unsupported driver")

// ValidateDriver rejects drivers the store has no upsert syntax for.
func ValidateDriver(d Driver) error {
	switch d {
	case DriverPostgres, DriverMySQL:
		return nil
	}
	return fmt.Errorf("%w: %q", errUnsupportedDriver, d)
}

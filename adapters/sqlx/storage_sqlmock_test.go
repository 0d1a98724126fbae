package sqlx_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "github.com/vajjipartisatwikraj/scope-codestats/adapters/sqlx"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func profileColumns() []string {
	return []string{
		"user_id", "platform", "username", "score", "solved_total", "solved_buckets",
		"rating", "max_rating", "rank", "contests", "last_updated", "last_update_status",
		"last_update_error", "last_update_attempt", "update_attempts",
	}
}

func TestSQLMock_GetProfile(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM platform_profiles WHERE user_id = \$1 AND platform = \$2`).
		WithArgs("alice", "leetcode").
		WillReturnRows(sqlmock.NewRows(profileColumns()).
			AddRow("alice", "leetcode", "alice_lc", 4400.0, int64(320), `{"hard":50}`,
				1850.0, 1900.0, "12345", int64(12), now, "success", "", now, int64(3)))

	p, err := store.GetProfile(context.Background(), "alice", core.PlatformLeetCode)
	require.NoError(t, err)
	require.Equal(t, 4400.0, p.Score)
	require.Equal(t, int64(50), p.Solved.Buckets["hard"])
	require.Equal(t, core.StatusSuccess, p.LastUpdateStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetProfile_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM platform_profiles`).
		WithArgs("alice", "codechef").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProfile(context.Background(), "alice", core.PlatformCodeChef)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertProfile(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO platform_profiles .+ ON CONFLICT \(user_id, platform\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := core.PlatformProfile{
		UserID: "alice", Platform: core.PlatformCodeforces, Username: "alice_cf",
		Score: 1500, Solved: core.SolvedBreakdown{Total: 410},
		LastUpdateStatus: core.StatusSuccess,
	}
	require.NoError(t, store.UpsertProfile(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListProfiles(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM platform_profiles WHERE user_id = \$1 ORDER BY platform`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(profileColumns()).
			AddRow("alice", "codeforces", "alice_cf", 1500.0, int64(410), `{}`,
				1650.0, 1700.0, "", int64(30), now, "success", "", now, int64(5)).
			AddRow("alice", "leetcode", "alice_lc", 4400.0, int64(320), `{}`,
				1850.0, 1900.0, "", int64(12), now, "success", "", now, int64(3)))

	profiles, err := store.ListProfiles(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Equal(t, core.PlatformCodeforces, profiles[0].Platform)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListUsers(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM platform_profiles`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice").AddRow("bob"))

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []core.UserID{"alice", "bob"}, users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AggregateRoundTrip(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO aggregate_scores .+ ON CONFLICT \(user_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.PutAggregate(context.Background(), core.AggregateScore{
		UserID: "alice", TotalScore: 5900, TotalSolved: 730,
	}))

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM aggregate_scores WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_score", "total_solved", "total_contests", "buckets", "computed_at"}).
			AddRow("alice", 5900.0, int64(730), int64(42), `{"hard":100}`, now))

	agg, err := store.GetAggregate(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 5900.0, agg.TotalScore)
	require.Equal(t, int64(100), agg.Buckets["hard"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_TopAggregates(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM aggregate_scores ORDER BY total_score DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_score", "total_solved", "total_contests", "buckets", "computed_at"}).
			AddRow("bob", 7200.0, int64(900), int64(50), `{}`, now).
			AddRow("alice", 5900.0, int64(730), int64(42), `{}`, now))

	top, err := store.TopAggregates(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, core.UserID("bob"), top[0].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateDriver(t *testing.T) {
	require.NoError(t, storage.ValidateDriver(storage.DriverPostgres))
	require.NoError(t, storage.ValidateDriver(storage.DriverMySQL))
	require.Error(t, storage.ValidateDriver(storage.Driver("sqlite")))
}

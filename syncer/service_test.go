package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajjipartisatwikraj/scope-codestats/aggregate"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/governor"
	"github.com/vajjipartisatwikraj/scope-codestats/retry"
)

type memProfiles struct {
	mu         sync.Mutex
	recs       map[string]core.PlatformProfile
	upsertErr  error
	upsertSeen int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{recs: make(map[string]core.PlatformProfile)}
}

func pkey(user core.UserID, platform core.Platform) string {
	return string(user) + "/" + string(platform)
}

func (m *memProfiles) GetProfile(_ context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[pkey(user, platform)]
	if !ok {
		return core.PlatformProfile{}, core.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memProfiles) UpsertProfile(_ context.Context, p core.PlatformProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSeen++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.recs[pkey(p.UserID, p.Platform)] = p.Clone()
	return nil
}

func (m *memProfiles) ListProfiles(_ context.Context, user core.UserID) ([]core.PlatformProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.PlatformProfile
	for _, rec := range m.recs {
		if rec.UserID == user {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *memProfiles) seed(user core.UserID, platform core.Platform, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[pkey(user, platform)] = core.PlatformProfile{
		UserID: user, Platform: platform, Username: username,
		LastUpdateStatus: core.StatusPending,
	}
}

type memUsers struct {
	mu      sync.Mutex
	users   []core.UserID
	aggs    map[core.UserID]core.AggregateScore
	listErr error
}

func newMemUsers(users ...core.UserID) *memUsers {
	return &memUsers{users: users, aggs: make(map[core.UserID]core.AggregateScore)}
}

func (m *memUsers) ListUsers(context.Context) ([]core.UserID, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.users, nil
}

func (m *memUsers) GetAggregate(_ context.Context, user core.UserID) (core.AggregateScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggs[user]
	if !ok {
		return core.AggregateScore{}, core.ErrNotFound
	}
	return agg.Clone(), nil
}

func (m *memUsers) PutAggregate(_ context.Context, agg core.AggregateScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggs[agg.UserID] = agg.Clone()
	return nil
}

type scriptedFetcher struct {
	platform core.Platform
	mu       sync.Mutex
	calls    int
	fn       func(call int, username string) (core.NormalizedProfile, error)
}

func (f *scriptedFetcher) Platform() core.Platform { return f.platform }

func (f *scriptedFetcher) Fetch(_ context.Context, username string) (core.NormalizedProfile, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, username)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okFetcher(p core.Platform, score float64, solved int64) *scriptedFetcher {
	return &scriptedFetcher{platform: p, fn: func(int, string) (core.NormalizedProfile, error) {
		return core.NormalizedProfile{
			Platform: p, Score: score,
			Solved:    core.SolvedBreakdown{Total: solved},
			FetchedAt: time.Now().UTC(),
		}, nil
	}}
}

func instantPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: 3,
		Backoff:    func(int) time.Duration { return 0 },
		Retryable:  core.IsRetryable,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
}

type testEnv struct {
	svc      *Service
	profiles *memProfiles
	users    *memUsers
	gov      *governor.Governor
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []core.SyncEvent
}

func (l *eventLog) record(_ context.Context, ev core.SyncEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(typ core.SyncEventType) []core.SyncEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.SyncEvent
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEnv(t *testing.T, fetchers []*scriptedFetcher, opts ...ServiceOption) *testEnv {
	t.Helper()
	profiles := newMemProfiles()
	users := newMemUsers()
	gov := governor.New(nil)
	agg := aggregate.New(profiles, users)
	bus := NewEventBus(DispatchSync)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmap := make(map[core.Platform]Fetcher, len(fetchers))
	for _, f := range fetchers {
		fmap[f.platform] = f
	}
	opts = append([]ServiceOption{WithRetryPolicy(instantPolicy())}, opts...)
	svc := NewService(fmap, profiles, users, gov, agg, bus, logger, opts...)
	t.Cleanup(svc.Close)

	log := &eventLog{}
	bus.SubscribeAll(log.record)
	return &testEnv{svc: svc, profiles: profiles, users: users, gov: gov, events: log}
}

func TestSyncUserUpdatesProfilesAndAggregate(t *testing.T) {
	lc := okFetcher(core.PlatformLeetCode, 4400, 320)
	cf := okFetcher(core.PlatformCodeforces, 1500, 410)
	env := newTestEnv(t, []*scriptedFetcher{lc, cf})
	env.profiles.seed("alice", core.PlatformLeetCode, "alice_lc")
	env.profiles.seed("alice", core.PlatformCodeforces, "alice_cf")

	res, err := env.svc.SyncUser(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, core.StatusSuccess, res.Outcomes[core.PlatformLeetCode].Status)
	assert.Equal(t, core.StatusSuccess, res.Outcomes[core.PlatformCodeforces].Status)
	assert.Equal(t, 5900.0, res.Aggregate.TotalScore)
	assert.Equal(t, int64(730), res.Aggregate.TotalSolved)

	rec, err := env.profiles.GetProfile(context.Background(), "alice", core.PlatformLeetCode)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, rec.LastUpdateStatus)
	assert.Equal(t, 4400.0, rec.Score)
	assert.Equal(t, int64(1), rec.UpdateAttempts)

	assert.Len(t, env.events.ofType(core.EventProfileUpdated), 2)
	recomputed := env.events.ofType(core.EventScoreRecomputed)
	require.Len(t, recomputed, 1)
	assert.Equal(t, 5900.0, recomputed[0].Total)
}

func TestSyncUserIsolatesPlatformFailure(t *testing.T) {
	lc := okFetcher(core.PlatformLeetCode, 200, 50)
	cf := &scriptedFetcher{platform: core.PlatformCodeforces, fn: func(int, string) (core.NormalizedProfile, error) {
		return core.NormalizedProfile{}, core.NotFoundError(core.PlatformCodeforces, "ghost")
	}}
	env := newTestEnv(t, []*scriptedFetcher{lc, cf})
	env.profiles.seed("alice", core.PlatformLeetCode, "alice_lc")
	env.profiles.seed("alice", core.PlatformCodeforces, "ghost")
	// previous data that must survive the failure
	env.profiles.mu.Lock()
	rec := env.profiles.recs[pkey("alice", core.PlatformCodeforces)]
	rec.Score = 50
	rec.Solved = core.SolvedBreakdown{Total: 10}
	env.profiles.recs[pkey("alice", core.PlatformCodeforces)] = rec
	env.profiles.mu.Unlock()

	res, err := env.svc.SyncUser(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Outcomes[core.PlatformLeetCode].Status)
	assert.Equal(t, core.StatusError, res.Outcomes[core.PlatformCodeforces].Status)

	// terminal failure, no retries
	assert.Equal(t, 1, cf.callCount())

	got, err := env.profiles.GetProfile(context.Background(), "alice", core.PlatformCodeforces)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, got.LastUpdateStatus)
	assert.Equal(t, 50.0, got.Score)
	assert.Equal(t, int64(10), got.Solved.Total)
	assert.NotEmpty(t, got.LastUpdateError)

	// failed platform contributes its retained score to the aggregate
	assert.Equal(t, 250.0, res.Aggregate.TotalScore)
	assert.Len(t, env.events.ofType(core.EventProfileFailed), 1)
}

func TestSyncUserRetriesTransientFailures(t *testing.T) {
	hr := &scriptedFetcher{platform: core.PlatformHackerRank, fn: func(call int, _ string) (core.NormalizedProfile, error) {
		if call < 3 {
			return core.NormalizedProfile{}, core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformHackerRank, "bob_hr", "bad gateway", nil)
		}
		return core.NormalizedProfile{Platform: core.PlatformHackerRank, Score: 360}, nil
	}}
	env := newTestEnv(t, []*scriptedFetcher{hr})
	env.profiles.seed("bob", core.PlatformHackerRank, "bob_hr")

	res, err := env.svc.SyncUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, res.Outcomes[core.PlatformHackerRank].Status)
	assert.Equal(t, 3, hr.callCount())
}

func TestSyncUserCooldownDeniesSecondRun(t *testing.T) {
	lc := okFetcher(core.PlatformLeetCode, 100, 25)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	profiles := newMemProfiles()
	users := newMemUsers()
	gov := governor.New(nil, governor.WithClock(func() time.Time { return now }))
	agg := aggregate.New(profiles, users)
	bus := NewEventBus(DispatchSync)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(map[core.Platform]Fetcher{core.PlatformLeetCode: lc}, profiles, users, gov, agg, bus, logger, WithRetryPolicy(instantPolicy()))
	defer svc.Close()
	profiles.seed("alice", core.PlatformLeetCode, "alice_lc")

	_, err := svc.SyncUser(context.Background(), "alice")
	require.NoError(t, err)
	first, err := profiles.GetProfile(context.Background(), "alice", core.PlatformLeetCode)
	require.NoError(t, err)

	// 5 hours later, still inside the 12h window
	now = now.Add(5 * time.Hour)
	res, err := svc.SyncUser(context.Background(), "alice")
	require.NoError(t, err)

	out := res.Outcomes[core.PlatformLeetCode]
	assert.Equal(t, core.StatusSkipped, out.Status)
	assert.InDelta(t, int64(7*3600), out.RetryAfterSeconds, 2)
	assert.Equal(t, 1, lc.callCount())

	// denial never touches the stored record
	second, err := profiles.GetProfile(context.Background(), "alice", core.PlatformLeetCode)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// after the window the pair syncs again
	now = now.Add(8 * time.Hour)
	res, err = svc.SyncUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, res.Outcomes[core.PlatformLeetCode].Status)
	assert.Equal(t, 2, lc.callCount())
}

func TestRegisterUsername(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, err := env.svc.RegisterUsername(context.Background(), "Alice", core.PlatformLeetCode, "alice_lc")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), rec.UserID)
	assert.Equal(t, "alice_lc", rec.Username)
	assert.Equal(t, core.StatusPending, rec.LastUpdateStatus)
}

func TestRegisterUsernameInvalidPersistsError(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, err := env.svc.RegisterUsername(context.Background(), "alice", core.PlatformCodeforces, "x")
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidUsername, core.KindOf(err))

	// the rejected handle is stored, flagged as an error, so the user
	// sees what failed instead of a silently reverted value
	assert.Equal(t, "x", rec.Username)
	assert.Equal(t, core.StatusError, rec.LastUpdateStatus)
	stored, gerr := env.profiles.GetProfile(context.Background(), "alice", core.PlatformCodeforces)
	require.NoError(t, gerr)
	assert.Equal(t, "x", stored.Username)
	assert.Equal(t, core.StatusError, stored.LastUpdateStatus)
	assert.NotEmpty(t, stored.LastUpdateError)
}

func TestRegisterUsernameChangeResetsStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.profiles.seed("alice", core.PlatformGitHub, "old-handle")
	env.profiles.mu.Lock()
	rec := env.profiles.recs[pkey("alice", core.PlatformGitHub)]
	rec.Score = 900
	rec.Solved = core.SolvedBreakdown{Total: 900}
	env.profiles.recs[pkey("alice", core.PlatformGitHub)] = rec
	env.profiles.mu.Unlock()

	got, err := env.svc.RegisterUsername(context.Background(), "alice", core.PlatformGitHub, "new-handle")
	require.NoError(t, err)
	assert.Equal(t, "new-handle", got.Username)
	assert.Zero(t, got.Score)
	assert.Zero(t, got.Solved.Total)
	assert.Equal(t, core.StatusPending, got.LastUpdateStatus)
}

func TestSyncUserNoPlatformsRegistered(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.SyncUser(context.Background(), "nobody")
	require.Error(t, err)
}

func fleetUsers(n int) []core.UserID {
	users := make([]core.UserID, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, core.UserID(fmt.Sprintf("user%02d", i)))
	}
	return users
}

func TestRunFleetSyncBatches(t *testing.T) {
	lc := okFetcher(core.PlatformLeetCode, 100, 25)

	var sleepMu sync.Mutex
	var pauses []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		sleepMu.Lock()
		pauses = append(pauses, d)
		sleepMu.Unlock()
		return nil
	}

	env := newTestEnv(t, []*scriptedFetcher{lc},
		WithFleetConfig(FleetConfig{BatchSize: 20, BatchPause: 2 * time.Second, MaxJitter: time.Nanosecond}),
		WithSleeper(sleeper),
	)
	users := fleetUsers(45)
	env.users.users = users
	for _, u := range users {
		env.profiles.seed(u, core.PlatformLeetCode, "handle_"+string(u))
	}

	report, err := env.svc.RunFleetSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45, report.TotalUsers)
	assert.Equal(t, 45, report.ProcessedUsers)
	assert.Equal(t, 45, report.UpdatedProfiles)
	assert.Zero(t, report.FailedProfiles)
	assert.Zero(t, report.SkippedUsers)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 45, report.PerPlatform[core.PlatformLeetCode].Updated)

	// two inter-batch pauses for three batches
	sleepMu.Lock()
	pauseCount := 0
	for _, d := range pauses {
		if d == 2*time.Second {
			pauseCount++
		}
	}
	sleepMu.Unlock()
	assert.Equal(t, 2, pauseCount)

	batches := env.events.ofType(core.EventBatchCompleted)
	require.Len(t, batches, 3)
	assert.Equal(t, 1, batches[0].Batch)
	assert.Equal(t, 3, batches[2].Batch)
	assert.Len(t, env.events.ofType(core.EventFleetStarted), 1)
	assert.Len(t, env.events.ofType(core.EventFleetCompleted), 1)
}

func TestRunFleetSyncCancellationSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &scriptedFetcher{platform: core.PlatformLeetCode, fn: func(call int, _ string) (core.NormalizedProfile, error) {
		cancel()
		return core.NormalizedProfile{}, core.NewFetchError(core.KindTimeout, core.PlatformLeetCode, "", "deadline exceeded", context.DeadlineExceeded)
	}}

	env := newTestEnv(t, []*scriptedFetcher{lc},
		WithFleetConfig(FleetConfig{BatchSize: 20, BatchPause: time.Millisecond, MaxJitter: time.Nanosecond}),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	users := fleetUsers(45)
	env.users.users = users
	for _, u := range users {
		env.profiles.seed(u, core.PlatformLeetCode, "handle_"+string(u))
	}

	report, err := env.svc.RunFleetSync(ctx)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 20, report.ProcessedUsers)
	assert.Equal(t, 25, report.SkippedUsers)
	assert.Zero(t, report.UpdatedProfiles)
}

func TestRunFleetSyncCancellationFinishesInflightBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &scriptedFetcher{platform: core.PlatformLeetCode, fn: func(call int, _ string) (core.NormalizedProfile, error) {
		// signal while the first batch is in flight; its workers must
		// still run to completion instead of aborting mid-fetch
		cancel()
		return core.NormalizedProfile{Platform: core.PlatformLeetCode, Score: 100, Solved: core.SolvedBreakdown{Total: 25}}, nil
	}}

	env := newTestEnv(t, []*scriptedFetcher{lc},
		WithFleetConfig(FleetConfig{BatchSize: 3, BatchPause: time.Millisecond, MaxJitter: time.Nanosecond}),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	users := fleetUsers(7)
	env.users.users = users
	for _, u := range users {
		env.profiles.seed(u, core.PlatformLeetCode, "handle_"+string(u))
	}

	report, err := env.svc.RunFleetSync(ctx)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 3, report.ProcessedUsers)
	assert.Equal(t, 3, report.UpdatedProfiles)
	assert.Zero(t, report.FailedProfiles)
	assert.Equal(t, 4, report.SkippedUsers)

	// the in-flight batch wrote clean successes, not cancellation errors
	for _, u := range users[:3] {
		rec, err := env.profiles.GetProfile(context.Background(), u, core.PlatformLeetCode)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, rec.LastUpdateStatus, "user %s", u)
		assert.Empty(t, rec.LastUpdateError, "user %s", u)
	}
}

func TestRunFleetSyncStoreErrorAborts(t *testing.T) {
	lc := okFetcher(core.PlatformLeetCode, 100, 25)
	env := newTestEnv(t, []*scriptedFetcher{lc},
		WithFleetConfig(FleetConfig{BatchSize: 2, BatchPause: time.Millisecond, MaxJitter: time.Nanosecond}),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	users := fleetUsers(6)
	env.users.users = users
	for _, u := range users {
		env.profiles.seed(u, core.PlatformLeetCode, "handle_"+string(u))
	}
	env.profiles.upsertErr = &core.StoreError{Op: "upsert", Err: errors.New("disk full")}

	report, err := env.svc.RunFleetSync(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsStoreError(err))
	assert.Equal(t, 4, report.SkippedUsers)
}

func TestRunFleetSyncListUsersFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.users.listErr = &core.StoreError{Op: "list", Err: errors.New("connection refused")}

	_, err := env.svc.RunFleetSync(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsStoreError(err))
}

func TestEventBusWildcardAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	defer bus.Close()

	var all, typed int
	unsubAll := bus.SubscribeAll(func(context.Context, core.SyncEvent) { all++ })
	bus.Subscribe(core.EventProfileUpdated, func(context.Context, core.SyncEvent) { typed++ })

	bus.Publish(context.Background(), core.NewProfileUpdated("alice", core.PlatformLeetCode, 1))
	bus.Publish(context.Background(), core.NewScoreRecomputed("alice", 1))
	assert.Equal(t, 2, all)
	assert.Equal(t, 1, typed)

	unsubAll()
	bus.Publish(context.Background(), core.NewProfileUpdated("alice", core.PlatformLeetCode, 1))
	assert.Equal(t, 2, all)
	assert.Equal(t, 2, typed)
}

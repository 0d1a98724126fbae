package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/governor"
	"github.com/vajjipartisatwikraj/scope-codestats/retry"
)

// Recomputer rebuilds a user's aggregate after profile writes.
type Recomputer interface {
	Recompute(ctx context.Context, user core.UserID) (core.AggregateScore, error)
}

// FleetConfig tunes batch processing for full-fleet runs.
type FleetConfig struct {
	BatchSize  int
	BatchPause time.Duration
	MaxJitter  time.Duration
}

func (c *FleetConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 2 * time.Second
	}
	if c.MaxJitter <= 0 {
		c.MaxJitter = 750 * time.Millisecond
	}
}

// Outcome reports one (user, platform) sync attempt.
type Outcome struct {
	Platform          core.Platform     `json:"platform"`
	Status            core.UpdateStatus `json:"status"`
	Score             float64           `json:"score,omitempty"`
	Partial           bool              `json:"partial,omitempty"`
	RetryAfterSeconds int64             `json:"retry_after_seconds,omitempty"`
	Err               error             `json:"-"`
	Error             string            `json:"error,omitempty"`
}

// SyncResult reports an on-demand sync across a user's platforms.
type SyncResult struct {
	UserID    core.UserID               `json:"user_id"`
	Outcomes  map[core.Platform]Outcome `json:"outcomes"`
	Aggregate core.AggregateScore       `json:"aggregate"`
}

// Service coordinates fetchers, the rate governor, stores, and the
// aggregator into the sync workflows.
type Service struct {
	fetchers map[core.Platform]Fetcher
	profiles ProfileStore
	users    UserStore
	gov      *governor.Governor
	agg      Recomputer
	bus      *EventBus
	logger   *slog.Logger
	policy   retry.Policy
	fleet    FleetConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	fleetBusy bool
}

type ServiceOption func(*Service)

// WithRetryPolicy overrides the per-pair retry policy.
func WithRetryPolicy(p retry.Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithFleetConfig overrides batch tuning.
func WithFleetConfig(c FleetConfig) ServiceOption {
	return func(s *Service) { s.fleet = c }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithSleeper overrides how the service waits between batches and for
// start jitter. Tests inject an instant sleeper.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) { s.sleep = sleep }
}

func NewService(fetchers map[core.Platform]Fetcher, profiles ProfileStore, users UserStore, gov *governor.Governor, agg Recomputer, bus *EventBus, logger *slog.Logger, opts ...ServiceOption) *Service {
	if profiles == nil || users == nil || gov == nil || agg == nil || bus == nil {
		panic("NewService requires non-nil stores, governor, aggregator, and bus")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		fetchers: fetchers,
		profiles: profiles,
		users:    users,
		gov:      gov,
		agg:      agg,
		bus:      bus,
		logger:   logger,
		policy:   retry.Default(core.IsRetryable),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	s.fleet.applyDefaults()
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.SyncEventType, handler func(context.Context, core.SyncEvent)) func() {
	return s.bus.Subscribe(typ, handler)
}

// Close releases the event bus.
func (s *Service) Close() { s.bus.Close() }

// RegisterUsername creates or updates the stored username for a pair.
// An invalid username is still persisted, with an error status, so the
// user sees exactly what was rejected instead of a silently reverted
// value.
func (s *Service) RegisterUsername(ctx context.Context, user core.UserID, platform core.Platform, username string) (core.PlatformProfile, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.PlatformProfile{}, err
	}
	if _, err := core.ParsePlatform(string(platform)); err != nil {
		return core.PlatformProfile{}, err
	}
	rec, err := s.profiles.GetProfile(ctx, user, platform)
	switch {
	case errors.Is(err, core.ErrNotFound):
		rec = core.PlatformProfile{UserID: user, Platform: platform}
	case err != nil:
		return core.PlatformProfile{}, err
	}
	now := s.now().UTC()
	if rec.Username != username {
		// A changed handle invalidates everything fetched for the old
		// one; totals recover on the next successful sync.
		rec = core.PlatformProfile{UserID: user, Platform: platform}
	}
	rec.Username = username
	if verr := core.ValidateUsername(platform, username); verr != nil {
		rec.LastUpdateStatus = core.StatusError
		rec.LastUpdateError = verr.Error()
		rec.LastUpdateAttempt = now
		if uerr := s.profiles.UpsertProfile(ctx, rec); uerr != nil {
			return core.PlatformProfile{}, uerr
		}
		return rec, verr
	}
	if rec.LastUpdateStatus == "" || rec.LastUpdateStatus == core.StatusError {
		rec.LastUpdateStatus = core.StatusPending
		rec.LastUpdateError = ""
	}
	if err := s.profiles.UpsertProfile(ctx, rec); err != nil {
		return core.PlatformProfile{}, err
	}
	return rec, nil
}

// SyncUser refreshes the given platforms for one user and recomputes
// the aggregate. With no platforms given it refreshes every platform
// that has a registered username. Platform failures are isolated; the
// error return is reserved for store failures.
func (s *Service) SyncUser(ctx context.Context, user core.UserID, platforms ...core.Platform) (SyncResult, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return SyncResult{}, err
	}
	if len(platforms) == 0 {
		recs, err := s.profiles.ListProfiles(ctx, user)
		if err != nil {
			return SyncResult{}, err
		}
		for _, r := range recs {
			platforms = append(platforms, r.Platform)
		}
	}
	res := SyncResult{UserID: user, Outcomes: make(map[core.Platform]Outcome, len(platforms))}
	if len(platforms) == 0 {
		return res, fmt.Errorf("no platforms registered for user %q", user)
	}

	var (
		mu       sync.Mutex
		storeErr error
		wg       sync.WaitGroup
	)
	for _, platform := range platforms {
		wg.Add(1)
		go func(platform core.Platform) {
			defer wg.Done()
			out, err := s.syncPair(ctx, user, platform)
			mu.Lock()
			defer mu.Unlock()
			res.Outcomes[platform] = out
			if err != nil && storeErr == nil {
				storeErr = err
			}
		}(platform)
	}
	wg.Wait()
	if storeErr != nil {
		return res, storeErr
	}

	agg, err := s.agg.Recompute(ctx, user)
	if err != nil {
		return res, err
	}
	res.Aggregate = agg
	s.bus.Publish(ctx, core.NewScoreRecomputed(user, agg.TotalScore))
	return res, nil
}

// syncPair runs the full update flow for one (user, platform) pair.
// The error return carries store failures only; fetch failures are
// folded into the outcome.
func (s *Service) syncPair(ctx context.Context, user core.UserID, platform core.Platform) (Outcome, error) {
	out := Outcome{Platform: platform}

	rec, err := s.profiles.GetProfile(ctx, user, platform)
	if errors.Is(err, core.ErrNotFound) {
		out.Status = core.StatusSkipped
		out.Err = fmt.Errorf("no username registered for %s", platform)
		out.Error = out.Err.Error()
		return out, nil
	}
	if err != nil {
		return out, err
	}

	fetcher, ok := s.fetchers[platform]
	if !ok {
		out.Status = core.StatusSkipped
		out.Err = fmt.Errorf("no fetcher configured for %s", platform)
		out.Error = out.Err.Error()
		return out, nil
	}

	if cderr := s.gov.CheckCooldown(user, platform); cderr != nil {
		var cd *governor.CooldownError
		out.Status = core.StatusSkipped
		out.Err = cderr
		out.Error = cderr.Error()
		if errors.As(cderr, &cd) {
			out.RetryAfterSeconds = cd.RemainingSeconds()
		}
		return out, nil
	}

	release, ok := s.gov.BeginPair(user, platform)
	if !ok {
		out.Status = core.StatusSkipped
		out.Err = fmt.Errorf("sync already in progress for %s/%s", user, platform)
		out.Error = out.Err.Error()
		return out, nil
	}
	defer release()

	rec.LastUpdateStatus = core.StatusUpdating
	if err := s.profiles.UpsertProfile(ctx, rec); err != nil {
		return out, err
	}

	var np core.NormalizedProfile
	ferr := s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.gov.AcquireSlot(ctx, platform); err != nil {
			return err
		}
		defer s.gov.ReleaseSlot(platform)
		p, err := fetcher.Fetch(ctx, rec.Username)
		if err != nil {
			return err
		}
		np = p
		return nil
	})

	now := s.now().UTC()
	if ferr != nil {
		rec.ApplyFailure(ferr.Error(), now)
		if uerr := s.profiles.UpsertProfile(ctx, rec); uerr != nil {
			return out, uerr
		}
		s.logger.Warn("profile sync failed",
			"user", user, "platform", platform, "kind", core.KindOf(ferr), "error", ferr)
		s.bus.Publish(ctx, core.NewProfileFailed(user, platform, ferr.Error()))
		out.Status = core.StatusError
		out.Err = ferr
		out.Error = ferr.Error()
		return out, nil
	}

	rec.ApplySuccess(np, now)
	if err := s.profiles.UpsertProfile(ctx, rec); err != nil {
		return out, err
	}
	s.gov.MarkSuccess(user, platform)
	s.logger.Info("profile synced",
		"user", user, "platform", platform, "score", rec.Score, "partial", np.Partial)
	s.bus.Publish(ctx, core.NewProfileUpdated(user, platform, rec.Score))
	out.Status = core.StatusSuccess
	out.Score = rec.Score
	out.Partial = np.Partial
	return out, nil
}

// ErrFleetBusy is returned when a fleet run is already in flight.
var ErrFleetBusy = errors.New("fleet sync already running")

// FleetRunning reports whether a fleet sync is currently in flight.
func (s *Service) FleetRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fleetBusy
}

// RunFleetSync refreshes every user in fixed-size batches. Users within
// a batch run concurrently with a small start jitter; batches are
// separated by a pause. Cancellation finishes the current batch and
// marks the rest skipped. A store failure aborts the run.
func (s *Service) RunFleetSync(ctx context.Context) (JobReport, error) {
	s.mu.Lock()
	if s.fleetBusy {
		s.mu.Unlock()
		return JobReport{}, ErrFleetBusy
	}
	s.fleetBusy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.fleetBusy = false
		s.mu.Unlock()
	}()

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return JobReport{}, err
	}

	j := newJob(len(users), s.now().UTC())
	s.bus.Publish(ctx, core.NewFleetStarted(len(users)))
	s.logger.Info("fleet sync started", "users", len(users), "batch_size", s.fleet.BatchSize)

	var (
		storeMu  sync.Mutex
		storeErr error
	)
	// cancellation is honored at batch boundaries only: workers run on a
	// detached context so an in-flight batch finishes cleanly instead of
	// aborting mid-fetch with context errors on its records
	runCtx := context.WithoutCancel(ctx)
	cancelled := false
	batchNum := 0
	for start := 0; start < len(users); start += s.fleet.BatchSize {
		if ctx.Err() != nil || storeErr != nil {
			j.markSkipped(len(users) - start)
			cancelled = ctx.Err() != nil
			break
		}
		end := start + s.fleet.BatchSize
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]
		batchNum++

		var wg sync.WaitGroup
		for _, user := range batch {
			wg.Add(1)
			go func(user core.UserID) {
				defer wg.Done()
				// stagger batch members so a platform is not hit by
				// twenty requests in the same instant
				if d := time.Duration(rand.Int64N(int64(s.fleet.MaxJitter) + 1)); d > 0 {
					if err := s.sleep(runCtx, d); err != nil {
						j.markSkipped(1)
						return
					}
				}
				res, err := s.SyncUser(runCtx, user)
				j.userProcessed()
				for _, out := range res.Outcomes {
					switch out.Status {
					case core.StatusSuccess:
						j.recordUpdated(out.Platform)
					case core.StatusError:
						j.recordFailed(out.Platform)
					}
				}
				if err != nil && core.IsStoreError(err) {
					storeMu.Lock()
					if storeErr == nil {
						storeErr = err
					}
					storeMu.Unlock()
				}
			}(user)
		}
		wg.Wait()

		s.bus.Publish(ctx, core.NewBatchCompleted(batchNum, len(batch)))
		if end < len(users) && ctx.Err() == nil && storeErr == nil {
			if err := s.sleep(ctx, s.fleet.BatchPause); err != nil {
				// next loop iteration observes the cancellation
				continue
			}
		}
	}

	report := j.finish(s.now().UTC(), cancelled)
	s.bus.Publish(ctx, core.NewFleetCompleted(report.TotalUsers, report.UpdatedProfiles, report.FailedProfiles, report.SkippedUsers))
	s.logger.Info("fleet sync finished",
		"processed", report.ProcessedUsers, "updated", report.UpdatedProfiles,
		"failed", report.FailedProfiles, "skipped", report.SkippedUsers,
		"cancelled", report.Cancelled)
	if storeErr != nil {
		return report, storeErr
	}
	return report, nil
}

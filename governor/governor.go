// Package governor gates outbound sync traffic. It enforces the
// per-(user,platform) cooldown between successful updates, per-platform
// minimum inter-request spacing, and per-platform concurrency ceilings.
// One shared instance is passed to the orchestrator; fleet workers and
// on-demand requests contend on the same state.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Limits configures pacing for one platform.
type Limits struct {
	// MinInterval is the minimum spacing between dispatched requests.
	MinInterval time.Duration
	// MaxConcurrent caps in-flight requests to the platform.
	MaxConcurrent int64
	// Cooldown is the minimum wait between successful updates of the
	// same (user, platform) pair. Zero falls back to the governor-wide
	// default.
	Cooldown time.Duration
}

// Option configures the Governor.
type Option func(*Governor)

// WithClock swaps the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithDefaultCooldown overrides the 12h default cooldown.
func WithDefaultCooldown(d time.Duration) Option {
	return func(g *Governor) { g.defaultCooldown = d }
}

type platformState struct {
	limiter *rate.Limiter
	slots   *semaphore.Weighted
}

type pairKey struct {
	user     core.UserID
	platform core.Platform
}

// Governor holds the shared rate-limit state. Lives for the process
// lifetime; reset only by restart.
type Governor struct {
	mu              sync.Mutex
	platforms       map[core.Platform]*platformState
	limits          map[core.Platform]Limits
	lastSuccess     map[pairKey]time.Time
	inFlight        map[pairKey]struct{}
	defaultCooldown time.Duration
	now             func() time.Time
}

// New builds a Governor from per-platform limits. Platforms missing
// from the map get permissive defaults (no spacing, 4 concurrent).
func New(limits map[core.Platform]Limits, opts ...Option) *Governor {
	g := &Governor{
		platforms:       make(map[core.Platform]*platformState),
		limits:          make(map[core.Platform]Limits),
		lastSuccess:     make(map[pairKey]time.Time),
		inFlight:        make(map[pairKey]struct{}),
		defaultCooldown: 12 * time.Hour,
		now:             time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	for p, l := range limits {
		g.limits[p] = l
	}
	return g
}

func (g *Governor) stateFor(platform core.Platform) *platformState {
	if st, ok := g.platforms[platform]; ok {
		return st
	}
	l := g.limits[platform]
	lim := rate.NewLimiter(rate.Inf, 1)
	if l.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(l.MinInterval), 1)
	}
	maxConc := l.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 4
	}
	st := &platformState{limiter: lim, slots: semaphore.NewWeighted(maxConc)}
	g.platforms[platform] = st
	return st
}

func (g *Governor) cooldownFor(platform core.Platform) time.Duration {
	if l, ok := g.limits[platform]; ok && l.Cooldown > 0 {
		return l.Cooldown
	}
	return g.defaultCooldown
}

// CooldownError says how long a pair has to wait.
type CooldownError struct {
	Platform  core.Platform
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: profile was updated recently, retry in %s", e.Platform, e.Remaining.Round(time.Second))
}

// RemainingSeconds is exposed to API callers.
func (e *CooldownError) RemainingSeconds() int64 {
	s := int64(e.Remaining.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// CheckCooldown denies a sync when the pair's last successful update is
// too recent. Failed attempts do not arm the cooldown, so failures stay
// retryable sooner than successes.
func (g *Governor) CheckCooldown(user core.UserID, platform core.Platform) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastSuccess[pairKey{user, platform}]
	if !ok {
		return nil
	}
	elapsed := g.now().Sub(last)
	cd := g.cooldownFor(platform)
	if elapsed >= cd {
		return nil
	}
	return &CooldownError{Platform: platform, Remaining: cd - elapsed}
}

// MarkSuccess records a successful update, arming the cooldown clock.
func (g *Governor) MarkSuccess(user core.UserID, platform core.Platform) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSuccess[pairKey{user, platform}] = g.now()
}

// BeginPair reserves the single in-flight sync allowed per
// (user, platform). The release func must be called when the attempt
// completes. The second return is false when a sync for the pair is
// already running.
func (g *Governor) BeginPair(user core.UserID, platform core.Platform) (func(), bool) {
	key := pairKey{user, platform}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return nil, false
	}
	g.inFlight[key] = struct{}{}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.inFlight, key)
	}, true
}

// AcquireSlot blocks until the platform's spacing has elapsed and a
// concurrency slot is free, then reserves the slot. Callers must pair
// it with ReleaseSlot.
func (g *Governor) AcquireSlot(ctx context.Context, platform core.Platform) error {
	g.mu.Lock()
	st := g.stateFor(platform)
	g.mu.Unlock()

	if err := st.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := st.limiter.Wait(ctx); err != nil {
		st.slots.Release(1)
		return err
	}
	return nil
}

// ReleaseSlot frees a reserved slot.
func (g *Governor) ReleaseSlot(platform core.Platform) {
	g.mu.Lock()
	st := g.stateFor(platform)
	g.mu.Unlock()
	st.slots.Release(1)
}

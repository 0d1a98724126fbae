package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func TestCheckCooldownDeniesRecentSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := New(nil, WithClock(func() time.Time { return now }), WithDefaultCooldown(12*time.Hour))

	require.NoError(t, g.CheckCooldown("u1", core.PlatformLeetCode))
	g.MarkSuccess("u1", core.PlatformLeetCode)

	now = now.Add(5 * time.Hour)
	err := g.CheckCooldown("u1", core.PlatformLeetCode)
	var cd *CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Greater(t, cd.RemainingSeconds(), int64(0))
	assert.InDelta(t, (7 * time.Hour).Seconds(), float64(cd.RemainingSeconds()), 2)

	// another pair is unaffected
	require.NoError(t, g.CheckCooldown("u2", core.PlatformLeetCode))
	require.NoError(t, g.CheckCooldown("u1", core.PlatformCodeforces))

	now = now.Add(8 * time.Hour)
	require.NoError(t, g.CheckCooldown("u1", core.PlatformLeetCode))
}

func TestFailedAttemptDoesNotArmCooldown(t *testing.T) {
	now := time.Now().UTC()
	g := New(nil, WithClock(func() time.Time { return now }))

	// a failure never calls MarkSuccess, so the pair stays allowed
	require.NoError(t, g.CheckCooldown("u1", core.PlatformCodeChef))
	require.NoError(t, g.CheckCooldown("u1", core.PlatformCodeChef))
}

func TestBeginPairSerializesSamePair(t *testing.T) {
	g := New(nil)

	release, ok := g.BeginPair("u1", core.PlatformGitHub)
	require.True(t, ok)

	_, ok = g.BeginPair("u1", core.PlatformGitHub)
	assert.False(t, ok, "second concurrent sync for the same pair must be rejected")

	// different platform or user is independent
	rel2, ok := g.BeginPair("u1", core.PlatformLeetCode)
	require.True(t, ok)
	rel2()

	release()
	release3, ok := g.BeginPair("u1", core.PlatformGitHub)
	require.True(t, ok)
	release3()
}

func TestAcquireSlotEnforcesConcurrencyCeiling(t *testing.T) {
	g := New(map[core.Platform]Limits{
		core.PlatformHackerRank: {MaxConcurrent: 2},
	})
	ctx := context.Background()

	var inFlight, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.AcquireSlot(ctx, core.PlatformHackerRank))
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				seen := atomic.LoadInt64(&maxSeen)
				if cur <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			g.ReleaseSlot(core.PlatformHackerRank)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
}

func TestAcquireSlotEnforcesSpacing(t *testing.T) {
	g := New(map[core.Platform]Limits{
		core.PlatformCodeforces: {MinInterval: 30 * time.Millisecond, MaxConcurrent: 4},
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.AcquireSlot(ctx, core.PlatformCodeforces))
		g.ReleaseSlot(core.PlatformCodeforces)
	}
	// three dispatches with 30ms spacing need at least two full gaps
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestAcquireSlotHonorsCancellation(t *testing.T) {
	g := New(map[core.Platform]Limits{
		core.PlatformGeeksforGeeks: {MaxConcurrent: 1},
	})
	ctx := context.Background()
	require.NoError(t, g.AcquireSlot(ctx, core.PlatformGeeksforGeeks))
	defer g.ReleaseSlot(core.PlatformGeeksforGeeks)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := g.AcquireSlot(cctx, core.PlatformGeeksforGeeks)
	require.Error(t, err)
}

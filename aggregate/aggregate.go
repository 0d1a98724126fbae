package aggregate

import (
	"context"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// ProfileSource yields the per-platform records an aggregate is derived from.
type ProfileSource interface {
	ListProfiles(ctx context.Context, user core.UserID) ([]core.PlatformProfile, error)
}

// AggregateSink persists recomputed totals.
type AggregateSink interface {
	PutAggregate(ctx context.Context, agg core.AggregateScore) error
}

// Board receives score updates for ranking. Optional.
type Board interface {
	Update(user core.UserID, score float64)
}

// Aggregator recomputes a user's rolled-up totals from scratch. Totals
// are never adjusted incrementally; every recompute reads the full
// profile set, so repeated runs over unchanged data are idempotent.
type Aggregator struct {
	profiles ProfileSource
	sink     AggregateSink
	board    Board
	now      func() time.Time
}

type Option func(*Aggregator)

// WithBoard pushes each recomputed total to a leaderboard.
func WithBoard(b Board) Option {
	return func(a *Aggregator) { a.board = b }
}

// WithClock overrides the aggregator's time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(profiles ProfileSource, sink AggregateSink, opts ...Option) *Aggregator {
	a := &Aggregator{profiles: profiles, sink: sink, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Recompute rebuilds the aggregate for one user and persists it.
// Records that have never synced successfully contribute their zero
// values, so a fresh registration does not distort totals.
func (a *Aggregator) Recompute(ctx context.Context, user core.UserID) (core.AggregateScore, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.AggregateScore{}, err
	}
	profiles, err := a.profiles.ListProfiles(ctx, user)
	if err != nil {
		return core.AggregateScore{}, err
	}
	agg := core.AggregateScore{
		UserID:     user,
		Buckets:    make(map[string]int64),
		ComputedAt: a.now().UTC(),
	}
	for _, p := range profiles {
		agg.TotalScore += p.Score
		agg.TotalSolved += p.Solved.Total
		agg.TotalContests += p.Contests
		for k, v := range p.Solved.Buckets {
			agg.Buckets[k] += v
		}
	}
	if err := a.sink.PutAggregate(ctx, agg); err != nil {
		return core.AggregateScore{}, err
	}
	if a.board != nil {
		a.board.Update(user, agg.TotalScore)
	}
	return agg, nil
}

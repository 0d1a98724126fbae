package syncer

import (
	"context"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Fetcher retrieves a normalized profile for one platform.
type Fetcher interface {
	Platform() core.Platform
	Fetch(ctx context.Context, username string) (core.NormalizedProfile, error)
}

// ProfileStore abstracts persistence for per-platform profile records.
type ProfileStore interface {
	GetProfile(ctx context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error)
	UpsertProfile(ctx context.Context, profile core.PlatformProfile) error
	ListProfiles(ctx context.Context, user core.UserID) ([]core.PlatformProfile, error)
}

// UserStore abstracts persistence for users and their aggregate totals.
type UserStore interface {
	ListUsers(ctx context.Context) ([]core.UserID, error)
	GetAggregate(ctx context.Context, user core.UserID) (core.AggregateScore, error)
	PutAggregate(ctx context.Context, agg core.AggregateScore) error
}

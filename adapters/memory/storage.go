package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

type pairKey struct {
	user     core.UserID
	platform core.Platform
}

// Store is a concurrent in-memory implementation of the profile and
// user stores. Suitable for tests and single-process deployments.
type Store struct {
	mu       sync.RWMutex
	profiles map[pairKey]core.PlatformProfile
	aggs     map[core.UserID]core.AggregateScore
}

func New() *Store {
	return &Store{
		profiles: make(map[pairKey]core.PlatformProfile),
		aggs:     make(map[core.UserID]core.AggregateScore),
	}
}

func (s *Store) GetProfile(_ context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[pairKey{user, platform}]
	if !ok {
		return core.PlatformProfile{}, core.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) UpsertProfile(_ context.Context, p core.PlatformProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[pairKey{p.UserID, p.Platform}] = p.Clone()
	return nil
}

func (s *Store) DeleteProfile(_ context.Context, user core.UserID, platform core.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, pairKey{user, platform})
	return nil
}

func (s *Store) ListProfiles(_ context.Context, user core.UserID) ([]core.PlatformProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PlatformProfile
	for k, p := range s.profiles {
		if k.user == user {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[core.UserID]struct{})
	for k := range s.profiles {
		seen[k.user] = struct{}{}
	}
	out := make([]core.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) GetAggregate(_ context.Context, user core.UserID) (core.AggregateScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggs[user]
	if !ok {
		return core.AggregateScore{}, core.ErrNotFound
	}
	return agg.Clone(), nil
}

func (s *Store) PutAggregate(_ context.Context, agg core.AggregateScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggs[agg.UserID] = agg.Clone()
	return nil
}

func (s *Store) ListAggregates(_ context.Context) ([]core.AggregateScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AggregateScore, 0, len(s.aggs))
	for _, agg := range s.aggs {
		out = append(out, agg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

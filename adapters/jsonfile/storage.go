package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Store persists all profiles and aggregates to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data fileData
}

type fileData struct {
	Profiles   []core.PlatformProfile         `json:"profiles"`
	Aggregates map[string]core.AggregateScore `json:"aggregates"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: fileData{Aggregates: map[string]core.AggregateScore{}}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw fileData
	if err := json.Unmarshal(b, &raw); err != nil {
		return &core.StoreError{Op: "load", Err: err}
	}
	if raw.Aggregates == nil {
		raw.Aggregates = map[string]core.AggregateScore{}
	}
	s.data = raw
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return &core.StoreError{Op: "persist", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &core.StoreError{Op: "persist", Err: err}
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &core.StoreError{Op: "persist", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &core.StoreError{Op: "persist", Err: err}
	}
	return nil
}

func (s *Store) GetProfile(_ context.Context, user core.UserID, platform core.Platform) (core.PlatformProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.Profiles {
		if p.UserID == user && p.Platform == platform {
			return p.Clone(), nil
		}
	}
	return core.PlatformProfile{}, core.ErrNotFound
}

func (s *Store) UpsertProfile(_ context.Context, p core.PlatformProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.data.Profiles {
		if existing.UserID == p.UserID && existing.Platform == p.Platform {
			s.data.Profiles[i] = p.Clone()
			return s.persist()
		}
	}
	s.data.Profiles = append(s.data.Profiles, p.Clone())
	return s.persist()
}

func (s *Store) ListProfiles(_ context.Context, user core.UserID) ([]core.PlatformProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PlatformProfile
	for _, p := range s.data.Profiles {
		if p.UserID == user {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[core.UserID]struct{})
	for _, p := range s.data.Profiles {
		seen[p.UserID] = struct{}{}
	}
	out := make([]core.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) GetAggregate(_ context.Context, user core.UserID) (core.AggregateScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.data.Aggregates[string(user)]
	if !ok {
		return core.AggregateScore{}, core.ErrNotFound
	}
	return agg.Clone(), nil
}

func (s *Store) PutAggregate(_ context.Context, agg core.AggregateScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Aggregates[string(agg.UserID)] = agg.Clone()
	return s.persist()
}

func (s *Store) ListAggregates(_ context.Context) ([]core.AggregateScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AggregateScore, 0, len(s.data.Aggregates))
	for _, agg := range s.data.Aggregates {
		out = append(out, agg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

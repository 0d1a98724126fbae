// Package stats accumulates in-process sync counters from domain
// events, for the stats API and operator dashboards.
package stats

import (
	"sync"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Hook receives domain events for counter aggregation.
type Hook interface {
	OnEvent(e core.SyncEvent)
}

// Bridge fans an event source out to multiple hooks.
type Bridge struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *Bridge { return &Bridge{hooks: hooks} }

func (b *Bridge) OnEvent(e core.SyncEvent) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// PlatformStats tallies outcomes for one platform.
type PlatformStats struct {
	Updated int64 `json:"updated"`
	Failed  int64 `json:"failed"`
}

// Summary is a point-in-time snapshot of the collected counters.
type Summary struct {
	PerPlatform      map[core.Platform]PlatformStats `json:"per_platform"`
	UsersSyncedToday int                             `json:"users_synced_today"`
	FleetRuns        int64                           `json:"fleet_runs"`
	LastFleetAt      time.Time                       `json:"last_fleet_at,omitempty"`
}

// SyncMetrics aggregates sync outcomes per platform and distinct users
// refreshed per day.
type SyncMetrics struct {
	mu          sync.RWMutex
	perPlatform map[core.Platform]*PlatformStats
	usersByDay  map[string]map[core.UserID]struct{}
	fleetRuns   int64
	lastFleetAt time.Time
	now         func() time.Time
}

func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{
		perPlatform: map[core.Platform]*PlatformStats{},
		usersByDay:  map[string]map[core.UserID]struct{}{},
		now:         time.Now,
	}
}

func (m *SyncMetrics) dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *SyncMetrics) platform(p core.Platform) *PlatformStats {
	st := m.perPlatform[p]
	if st == nil {
		st = &PlatformStats{}
		m.perPlatform[p] = st
	}
	return st
}

func (m *SyncMetrics) OnEvent(e core.SyncEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.Type {
	case core.EventProfileUpdated:
		m.platform(e.Platform).Updated++
		m.touchUser(e.Time, e.UserID)
	case core.EventProfileFailed:
		m.platform(e.Platform).Failed++
	case core.EventFleetCompleted:
		m.fleetRuns++
		m.lastFleetAt = e.Time
	}
}

func (m *SyncMetrics) touchUser(t time.Time, user core.UserID) {
	if user == "" {
		return
	}
	day := m.dayKey(t)
	users := m.usersByDay[day]
	if users == nil {
		users = map[core.UserID]struct{}{}
		m.usersByDay[day] = users
	}
	users[user] = struct{}{}
}

// UsersSynced reports distinct users refreshed on a day (YYYY-MM-DD).
func (m *SyncMetrics) UsersSynced(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.usersByDay[day])
}

// Snapshot copies the current counters.
func (m *SyncMetrics) Snapshot() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{
		PerPlatform:      make(map[core.Platform]PlatformStats, len(m.perPlatform)),
		UsersSyncedToday: len(m.usersByDay[m.dayKey(m.now())]),
		FleetRuns:        m.fleetRuns,
		LastFleetAt:      m.lastFleetAt,
	}
	for p, st := range m.perPlatform {
		s.PerPlatform[p] = *st
	}
	return s
}

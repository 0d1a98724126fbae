package syncer

import (
	"sync"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// PlatformCounts tallies outcomes for one platform across a fleet run.
type PlatformCounts struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// JobReport summarizes a fleet run.
type JobReport struct {
	TotalUsers      int                              `json:"total_users"`
	ProcessedUsers  int                              `json:"processed_users"`
	SkippedUsers    int                              `json:"skipped_users"`
	UpdatedProfiles int                              `json:"updated_profiles"`
	FailedProfiles  int                              `json:"failed_profiles"`
	PerPlatform     map[core.Platform]PlatformCounts `json:"per_platform"`
	StartedAt       time.Time                        `json:"started_at"`
	FinishedAt      time.Time                        `json:"finished_at"`
	Cancelled       bool                             `json:"cancelled"`
}

// Duration reports the wall-clock span of the run.
func (r JobReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// job accumulates a report under a mutex; worker goroutines write
// concurrently during a batch.
type job struct {
	mu     sync.Mutex
	report JobReport
}

func newJob(totalUsers int, started time.Time) *job {
	return &job{report: JobReport{
		TotalUsers:  totalUsers,
		PerPlatform: make(map[core.Platform]PlatformCounts),
		StartedAt:   started,
	}}
}

func (j *job) recordUpdated(p core.Platform) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.report.UpdatedProfiles++
	c := j.report.PerPlatform[p]
	c.Updated++
	j.report.PerPlatform[p] = c
}

func (j *job) recordFailed(p core.Platform) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.report.FailedProfiles++
	c := j.report.PerPlatform[p]
	c.Failed++
	j.report.PerPlatform[p] = c
}

func (j *job) userProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.report.ProcessedUsers++
}

func (j *job) markSkipped(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.report.SkippedUsers += n
}

func (j *job) finish(now time.Time, cancelled bool) JobReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.report.FinishedAt = now
	j.report.Cancelled = cancelled
	return j.report
}

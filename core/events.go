package core

import "time"

// SyncEventType enumerates domain events emitted during syncs.
type SyncEventType string

const (
	EventProfileUpdated  SyncEventType = "profile_updated"
	EventProfileFailed   SyncEventType = "profile_failed"
	EventScoreRecomputed SyncEventType = "score_recomputed"
	EventFleetStarted    SyncEventType = "fleet_started"
	EventBatchCompleted  SyncEventType = "batch_completed"
	EventFleetCompleted  SyncEventType = "fleet_completed"
)

// SyncEvent represents an immutable domain event.
type SyncEvent struct {
	Type     SyncEventType  `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id,omitempty"`
	Platform Platform       `json:"platform,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Total    float64        `json:"total,omitempty"`
	Status   UpdateStatus   `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Batch    int            `json:"batch,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewProfileUpdated(user UserID, platform Platform, score float64) SyncEvent {
	return SyncEvent{Type: EventProfileUpdated, Time: time.Now().UTC(), UserID: user, Platform: platform, Score: score, Status: StatusSuccess}
}

func NewProfileFailed(user UserID, platform Platform, msg string) SyncEvent {
	return SyncEvent{Type: EventProfileFailed, Time: time.Now().UTC(), UserID: user, Platform: platform, Status: StatusError, Error: msg}
}

func NewScoreRecomputed(user UserID, total float64) SyncEvent {
	return SyncEvent{Type: EventScoreRecomputed, Time: time.Now().UTC(), UserID: user, Total: total}
}

func NewFleetStarted(totalUsers int) SyncEvent {
	return SyncEvent{Type: EventFleetStarted, Time: time.Now().UTC(), Metadata: map[string]any{"total_users": totalUsers}}
}

func NewBatchCompleted(batch, processed int) SyncEvent {
	return SyncEvent{Type: EventBatchCompleted, Time: time.Now().UTC(), Batch: batch, Metadata: map[string]any{"processed": processed}}
}

func NewFleetCompleted(totalUsers, updated, failed, skipped int) SyncEvent {
	return SyncEvent{Type: EventFleetCompleted, Time: time.Now().UTC(), Metadata: map[string]any{
		"total_users": totalUsers,
		"updated":     updated,
		"failed":      failed,
		"skipped":     skipped,
	}}
}

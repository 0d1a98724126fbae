package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PlatformProfile mirrors the public JSON surface of one (user, platform)
// record as the API returns it.
type PlatformProfile struct {
	UserID            string          `json:"user_id"`
	Platform          string          `json:"platform"`
	Username          string          `json:"username"`
	Score             float64         `json:"score"`
	Solved            SolvedBreakdown `json:"solved"`
	Rating            float64         `json:"rating,omitempty"`
	MaxRating         float64         `json:"max_rating,omitempty"`
	Rank              string          `json:"rank,omitempty"`
	Contests          int64           `json:"contests"`
	LastUpdated       time.Time       `json:"last_updated"`
	LastUpdateStatus  string          `json:"last_update_status"`
	LastUpdateError   string          `json:"last_update_error,omitempty"`
	LastUpdateAttempt time.Time       `json:"last_update_attempt"`
	UpdateAttempts    int64           `json:"update_attempts"`
}

// SolvedBreakdown carries the solved-problem counts per difficulty bucket.
type SolvedBreakdown struct {
	Total   int64            `json:"total"`
	Buckets map[string]int64 `json:"buckets,omitempty"`
}

// AggregateScore is the cross-platform rollup for one user.
type AggregateScore struct {
	UserID        string           `json:"user_id"`
	TotalScore    float64          `json:"total_score"`
	TotalSolved   int64            `json:"total_solved"`
	Buckets       map[string]int64 `json:"buckets,omitempty"`
	TotalContests int64            `json:"total_contests"`
	ComputedAt    time.Time        `json:"computed_at"`
}

// Outcome reports how one platform fared during a sync.
type Outcome struct {
	Platform          string  `json:"platform"`
	Status            string  `json:"status"`
	Score             float64 `json:"score"`
	Partial           bool    `json:"partial,omitempty"`
	RetryAfterSeconds int64   `json:"retry_after_seconds,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// SyncResult is the response of a user sync.
type SyncResult struct {
	UserID    string             `json:"user_id"`
	Outcomes  map[string]Outcome `json:"outcomes"`
	Aggregate AggregateScore     `json:"aggregate"`
}

// UserSummary is a user with their profiles, rollup, and board rank.
type UserSummary struct {
	UserID    string            `json:"user_id"`
	Profiles  []PlatformProfile `json:"profiles"`
	Aggregate *AggregateScore   `json:"aggregate,omitempty"`
	Rank      int               `json:"rank,omitempty"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	User  string  `json:"user_id"`
	Score float64 `json:"score"`
}

// LeaderboardPage is the response of the leaderboard endpoint.
type LeaderboardPage struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int                `json:"total"`
}

// Event is a sync event as streamed over the WebSocket endpoint.
type Event struct {
	Type     string         `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   string         `json:"user_id,omitempty"`
	Platform string         `json:"platform,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Total    float64        `json:"total,omitempty"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Batch    int            `json:"batch,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unknown"
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")

package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UserID uniquely identifies a tracked user.
type UserID string

// Platform identifies one of the external coding platforms.
type Platform string

const (
	PlatformLeetCode      Platform = "leetcode"
	PlatformCodeforces    Platform = "codeforces"
	PlatformCodeChef      Platform = "codechef"
	PlatformGeeksforGeeks Platform = "geeksforgeeks"
	PlatformHackerRank    Platform = "hackerrank"
	PlatformGitHub        Platform = "github"
)

// Platforms returns all supported platforms in stable order.
func Platforms() []Platform {
	return []Platform{
		PlatformLeetCode,
		PlatformCodeforces,
		PlatformCodeChef,
		PlatformGeeksforGeeks,
		PlatformHackerRank,
		PlatformGitHub,
	}
}

// ParsePlatform converts a string into a known Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// UpdateStatus tracks the outcome of the most recent sync attempt.
type UpdateStatus string

const (
	StatusPending  UpdateStatus = "pending"
	StatusUpdating UpdateStatus = "updating"
	StatusSuccess  UpdateStatus = "success"
	StatusError    UpdateStatus = "error"
	StatusSkipped  UpdateStatus = "skipped"
)

// SolvedBreakdown counts solved problems overall and per difficulty bucket.
// Bucket names are platform-specific (easy/medium/hard, school/basic, star
// tiers, and so on).
type SolvedBreakdown struct {
	Total   int64            `json:"total"`
	Buckets map[string]int64 `json:"buckets,omitempty"`
}

// Clone returns a deep copy of the breakdown.
func (b SolvedBreakdown) Clone() SolvedBreakdown {
	cp := SolvedBreakdown{Total: b.Total}
	if b.Buckets != nil {
		cp.Buckets = make(map[string]int64, len(b.Buckets))
		for k, v := range b.Buckets {
			cp.Buckets[k] = v
		}
	}
	return cp
}

// NormalizedProfile is the pure result of fetching one platform profile.
// It carries no persistence bookkeeping; callers decide how to store it.
type NormalizedProfile struct {
	Platform  Platform        `json:"platform"`
	Username  string          `json:"username"`
	Score     float64         `json:"score"`
	Solved    SolvedBreakdown `json:"solved"`
	Rating    float64         `json:"rating,omitempty"`
	MaxRating float64         `json:"max_rating,omitempty"`
	Rank      string          `json:"rank,omitempty"`
	Contests  int64           `json:"contests"`
	// Partial marks a successful fetch obtained through a fallback path
	// whose completeness confidence is reduced.
	Partial   bool      `json:"partial,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// PlatformProfile is the persisted state of one (user, platform) pair.
// Unique per pair; Score is never negative.
type PlatformProfile struct {
	UserID            UserID          `json:"user_id" db:"user_id"`
	Platform          Platform        `json:"platform" db:"platform"`
	Username          string          `json:"username" db:"username"`
	Score             float64         `json:"score" db:"score"`
	Solved            SolvedBreakdown `json:"solved"`
	Rating            float64         `json:"rating,omitempty" db:"rating"`
	MaxRating         float64         `json:"max_rating,omitempty" db:"max_rating"`
	Rank              string          `json:"rank,omitempty" db:"rank"`
	Contests          int64           `json:"contests" db:"contests"`
	LastUpdated       time.Time       `json:"last_updated" db:"last_updated"`
	LastUpdateStatus  UpdateStatus    `json:"last_update_status" db:"last_update_status"`
	LastUpdateError   string          `json:"last_update_error,omitempty" db:"last_update_error"`
	LastUpdateAttempt time.Time       `json:"last_update_attempt" db:"last_update_attempt"`
	UpdateAttempts    int64           `json:"update_attempts" db:"update_attempts"`
}

// Clone returns a deep copy of the profile.
func (p PlatformProfile) Clone() PlatformProfile {
	cp := p
	cp.Solved = p.Solved.Clone()
	return cp
}

// ApplySuccess folds a fetched profile into the stored record.
func (p *PlatformProfile) ApplySuccess(np NormalizedProfile, now time.Time) {
	p.Username = np.Username
	p.Score = np.Score
	if p.Score < 0 {
		p.Score = 0
	}
	p.Solved = np.Solved.Clone()
	p.Rating = np.Rating
	p.MaxRating = np.MaxRating
	p.Rank = np.Rank
	p.Contests = np.Contests
	p.LastUpdated = now
	p.LastUpdateStatus = StatusSuccess
	p.LastUpdateError = ""
	p.LastUpdateAttempt = now
	p.UpdateAttempts++
}

// ApplyFailure records a failed attempt. The previous score and solved
// counts are retained so a platform failure never zeroes stored data.
func (p *PlatformProfile) ApplyFailure(msg string, now time.Time) {
	p.LastUpdateStatus = StatusError
	p.LastUpdateError = msg
	p.LastUpdateAttempt = now
	p.UpdateAttempts++
}

// ApplySkipped marks the record untouched by a cancelled fleet run.
func (p *PlatformProfile) ApplySkipped(now time.Time) {
	p.LastUpdateStatus = StatusSkipped
	p.LastUpdateAttempt = now
}

// AggregateScore holds a user's rolled-up totals. It is derived state:
// always recomputed in full from the current PlatformProfile set.
type AggregateScore struct {
	UserID        UserID           `json:"user_id" db:"user_id"`
	TotalScore    float64          `json:"total_score" db:"total_score"`
	TotalSolved   int64            `json:"total_solved" db:"total_solved"`
	Buckets       map[string]int64 `json:"buckets,omitempty"`
	TotalContests int64            `json:"total_contests" db:"total_contests"`
	ComputedAt    time.Time        `json:"computed_at" db:"computed_at"`
}

// Clone returns a deep copy of the aggregate.
func (a AggregateScore) Clone() AggregateScore {
	cp := a
	if a.Buckets != nil {
		cp.Buckets = make(map[string]int64, len(a.Buckets))
		for k, v := range a.Buckets {
			cp.Buckets[k] = v
		}
	}
	return cp
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

var usernamePatterns = map[Platform]*regexp.Regexp{
	PlatformLeetCode:      regexp.MustCompile(`^[A-Za-z0-9_-]{1,25}$`),
	PlatformCodeforces:    regexp.MustCompile(`^[A-Za-z0-9_.-]{3,24}$`),
	PlatformCodeChef:      regexp.MustCompile(`^[a-z][a-z0-9_]{2,19}$`),
	PlatformGeeksforGeeks: regexp.MustCompile(`^[A-Za-z0-9_]{1,30}$`),
	PlatformHackerRank:    regexp.MustCompile(`^[A-Za-z0-9_]{1,30}$`),
	PlatformGitHub:        regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`),
}

// ValidateUsername rejects usernames the platform would never accept,
// before any network dispatch.
func ValidateUsername(platform Platform, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return NewFetchError(KindInvalidUsername, platform, username, "username is empty", nil)
	}
	re, ok := usernamePatterns[platform]
	if !ok {
		return fmt.Errorf("unknown platform %q", platform)
	}
	if !re.MatchString(username) {
		return NewFetchError(KindInvalidUsername, platform, username,
			fmt.Sprintf("username %q is not valid for %s", username, platform), nil)
	}
	return nil
}

package leaderboard

import "github.com/vajjipartisatwikraj/scope-codestats/core"

// Entry is one ranked user with their aggregate score.
type Entry struct {
	User  core.UserID `json:"user_id"`
	Score float64     `json:"score"`
}

// Board abstracts leaderboard operations. Scores are aggregate totals;
// ties rank by user id ascending so ordering is deterministic.
type Board interface {
	Update(user core.UserID, score float64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Rank(user core.UserID) (int, bool)
	Len() int
}

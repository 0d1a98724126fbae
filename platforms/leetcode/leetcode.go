// Package leetcode fetches profiles through LeetCode's GraphQL API.
package leetcode

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for LeetCode: 4 points per solved problem, quadratic contest
// rating above 1400, 10 points per attended contest.
var Weights = core.ScoreWeights{Volume: 4, RatingFloor: 1400, RatingDivisor: 30, Contest: 10}

// Config configures the adapter.
type Config struct {
	// BaseURL defaults to https://leetcode.com.
	BaseURL string
	// Timeout bounds a whole fetch, fallbacks included.
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the LeetCode platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

// New builds a Client with defaults filled in.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://leetcode.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformLeetCode, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformLeetCode, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformLeetCode }

// Fetch resolves a LeetCode profile. The full profile query runs first;
// a lighter stats-only query is the fallback when contest data is
// unavailable.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformLeetCode, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return fetch.Run(ctx, core.PlatformLeetCode, username, []fetch.Strategy{
		{Name: "graphql-profile", Run: c.fetchFull},
		{Name: "graphql-stats", Run: c.fetchStatsOnly},
	})
}

const fullQuery = `
query userProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile { ranking }
    submitStatsGlobal {
      acSubmissionNum { difficulty count }
    }
  }
  userContestRanking(username: $username) {
    attendedContestsCount
    rating
  }
}`

const statsQuery = `
query userStats($username: String!) {
  matchedUser(username: $username) {
    username
    submitStatsGlobal {
      acSubmissionNum { difficulty count }
    }
  }
}`

type matchedUser struct {
	Username string `json:"username"`
	Profile  *struct {
		Ranking int64 `json:"ranking"`
	} `json:"profile"`
	SubmitStatsGlobal struct {
		ACSubmissionNum []struct {
			Difficulty string `json:"difficulty"`
			Count      int64  `json:"count"`
		} `json:"acSubmissionNum"`
	} `json:"submitStatsGlobal"`
}

func (c *Client) fetchFull(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var data struct {
		MatchedUser        *matchedUser `json:"matchedUser"`
		UserContestRanking *struct {
			AttendedContestsCount int64   `json:"attendedContestsCount"`
			Rating                float64 `json:"rating"`
		} `json:"userContestRanking"`
	}
	err := c.http.GraphQL(ctx, c.cfg.BaseURL+"/graphql", fullQuery, map[string]any{"username": username}, nil, &data)
	if err != nil {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	// matchedUser null is LeetCode's positive confirmation of absence
	if data.MatchedUser == nil {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformLeetCode, username)
	}

	profile := normalize(*data.MatchedUser)
	var rating float64
	if data.UserContestRanking != nil {
		rating = data.UserContestRanking.Rating
		profile.Contests = data.UserContestRanking.AttendedContestsCount
	}
	profile.Rating = rating
	profile.MaxRating = rating
	profile.Score = Weights.Score(profile.Solved.Total, rating, profile.Contests)
	return profile, fetch.ConfidenceFull, nil
}

func (c *Client) fetchStatsOnly(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var data struct {
		MatchedUser *matchedUser `json:"matchedUser"`
	}
	err := c.http.GraphQL(ctx, c.cfg.BaseURL+"/graphql", statsQuery, map[string]any{"username": username}, nil, &data)
	if err != nil {
		return core.NormalizedProfile{}, fetch.ConfidencePartial, err
	}
	if data.MatchedUser == nil {
		return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformLeetCode, username)
	}
	profile := normalize(*data.MatchedUser)
	profile.Score = Weights.Score(profile.Solved.Total, 0, 0)
	return profile, fetch.ConfidencePartial, nil
}

func normalize(mu matchedUser) core.NormalizedProfile {
	profile := core.NormalizedProfile{
		Username: mu.Username,
		Solved:   core.SolvedBreakdown{Buckets: map[string]int64{}},
	}
	if mu.Profile != nil && mu.Profile.Ranking > 0 {
		profile.Rank = strconv.FormatInt(mu.Profile.Ranking, 10)
	}
	for _, bucket := range mu.SubmitStatsGlobal.ACSubmissionNum {
		switch strings.ToLower(bucket.Difficulty) {
		case "all":
			profile.Solved.Total = bucket.Count
		case "easy", "medium", "hard":
			profile.Solved.Buckets[strings.ToLower(bucket.Difficulty)] = bucket.Count
		}
	}
	return profile
}

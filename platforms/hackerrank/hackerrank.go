// Package hackerrank fetches profiles from HackerRank's REST API. The
// profile endpoint confirms existence; the badges listing provides the
// per-category breakdown the score is derived from.
package hackerrank

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for HackerRank: 1 point per solved challenge, no rating term,
// 5 points per contest. Badge stars add through the star bonus below.
var Weights = core.ScoreWeights{Volume: 1, Contest: 5}

// starBonus is awarded per badge star on top of the shared curve.
const starBonus = 25

// Config configures the adapter.
type Config struct {
	// BaseURL defaults to https://www.hackerrank.com.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the HackerRank platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.hackerrank.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformHackerRank, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformHackerRank, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformHackerRank }

// Fetch resolves a HackerRank username. The profile endpoint runs
// first; when it is down a non-empty badges listing still yields a
// partial result, since earned badges can only belong to a real user.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformHackerRank, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return fetch.Run(ctx, core.PlatformHackerRank, username, []fetch.Strategy{
		{Name: "profile-and-badges", Run: c.fetchProfile},
		{Name: "badges-only", Run: c.fetchBadgesOnly},
	})
}

type badgesResponse struct {
	Models []struct {
		BadgeName string `json:"badge_name"`
		Category  string `json:"category_name"`
		Stars     int64  `json:"stars"`
		Solved    int64  `json:"solved"`
	} `json:"models"`
}

func (c *Client) fetchProfile(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var prof struct {
		Model *struct {
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"model"`
	}
	url := c.cfg.BaseURL + "/rest/contests/master/hackers/" + username + "/profile"
	if err := c.http.GetJSON(ctx, url, nil, &prof); err != nil {
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformHackerRank, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	if prof.Model == nil {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformHackerRank, username)
	}

	profile, _, err := c.badgesProfile(ctx, username)
	if err != nil {
		// existence confirmed by the profile endpoint; missing badge data
		// degrades to a partial success
		return core.NormalizedProfile{Username: prof.Model.Username, Solved: core.SolvedBreakdown{Buckets: map[string]int64{}}},
			fetch.ConfidencePartial, nil
	}
	profile.Username = prof.Model.Username
	return profile, fetch.ConfidenceFull, nil
}

func (c *Client) fetchBadgesOnly(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	profile, badgeCount, err := c.badgesProfile(ctx, username)
	if err != nil {
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformHackerRank, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidencePartial, err
	}
	if badgeCount == 0 {
		// an empty badge list proves nothing about the user; with the
		// profile endpoint down there is no existence confirmation, so
		// this must not surface as a zero-valued success
		return core.NormalizedProfile{}, fetch.ConfidencePartial,
			core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformHackerRank, username,
				"profile endpoint unavailable and badge listing is empty", nil)
	}
	return profile, fetch.ConfidencePartial, nil
}

func (c *Client) badgesProfile(ctx context.Context, username string) (core.NormalizedProfile, int, error) {
	var badges badgesResponse
	url := c.cfg.BaseURL + "/rest/hackers/" + username + "/badges"
	if err := c.http.GetJSON(ctx, url, nil, &badges); err != nil {
		return core.NormalizedProfile{}, 0, err
	}

	profile := core.NormalizedProfile{
		Username: username,
		Solved:   core.SolvedBreakdown{Buckets: map[string]int64{}},
	}
	var stars int64
	for _, b := range badges.Models {
		category := strings.ToLower(strings.TrimSpace(b.Category))
		if category == "" {
			category = strings.ToLower(strings.TrimSpace(b.BadgeName))
		}
		if category == "" {
			continue
		}
		profile.Solved.Buckets[category] += b.Solved
		profile.Solved.Total += b.Solved
		stars += b.Stars
	}
	profile.Score = Weights.Score(profile.Solved.Total, 0, profile.Contests) + float64(stars*starBonus)
	return profile, len(badges.Models), nil
}

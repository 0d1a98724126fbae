// Package codeforces fetches profiles from the official Codeforces
// REST API. Codeforces publishes a rate-limit policy of one request per
// two seconds, enforced by the shared governor's spacing configuration.
package codeforces

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for Codeforces: 2 points per solved problem, quadratic rating
// above 1000, 5 points per rated contest.
var Weights = core.ScoreWeights{Volume: 2, RatingFloor: 1000, RatingDivisor: 25, Contest: 5}

// Config configures the adapter.
type Config struct {
	// BaseURL defaults to https://codeforces.com.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the Codeforces platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://codeforces.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformCodeforces, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformCodeforces, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformCodeforces }

// Fetch resolves a Codeforces handle. user.info confirms existence and
// supplies ratings; user.status and user.rating fill in solved counts
// and contest participation. When the secondary calls fail the result
// is still a success, flagged partial.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformCodeforces, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return fetch.Run(ctx, core.PlatformCodeforces, username, []fetch.Strategy{
		{Name: "rest-api", Run: c.fetchREST},
	})
}

type apiEnvelope[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

type userInfo struct {
	Handle    string  `json:"handle"`
	Rating    float64 `json:"rating"`
	MaxRating float64 `json:"maxRating"`
	Rank      string  `json:"rank"`
}

type submission struct {
	Verdict string `json:"verdict"`
	Problem struct {
		ContestID int64  `json:"contestId"`
		Index     string `json:"index"`
		Rating    int64  `json:"rating"`
	} `json:"problem"`
}

func (c *Client) apiURL(method string, params url.Values) string {
	return fmt.Sprintf("%s/api/%s?%s", c.cfg.BaseURL, method, params.Encode())
}

func (c *Client) fetchREST(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var info apiEnvelope[[]userInfo]
	err := c.http.GetJSON(ctx, c.apiURL("user.info", url.Values{"handles": {username}}), nil, &info)
	if err != nil {
		// the API answers 400 with a FAILED envelope for unknown handles;
		// some proxies surface the status alone
		if fetch.IsStatus(err, http.StatusBadRequest) {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformCodeforces, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	if info.Status != "OK" {
		if strings.Contains(strings.ToLower(info.Comment), "not found") {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformCodeforces, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull,
			core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformCodeforces, username, info.Comment, nil)
	}
	if len(info.Result) == 0 {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformCodeforces, username)
	}

	// existence confirmed; everything below is enrichment
	u := info.Result[0]
	profile := core.NormalizedProfile{
		Username:  u.Handle,
		Rating:    u.Rating,
		MaxRating: u.MaxRating,
		Rank:      u.Rank,
		Solved:    core.SolvedBreakdown{Buckets: map[string]int64{}},
	}

	conf := fetch.ConfidenceFull
	if err := c.fillSolved(ctx, username, &profile); err != nil {
		conf = fetch.ConfidencePartial
	}
	if err := c.fillContests(ctx, username, &profile); err != nil {
		conf = fetch.ConfidencePartial
	}
	profile.Score = Weights.Score(profile.Solved.Total, profile.Rating, profile.Contests)
	return profile, conf, nil
}

func (c *Client) fillSolved(ctx context.Context, username string, profile *core.NormalizedProfile) error {
	var subs apiEnvelope[[]submission]
	params := url.Values{"handle": {username}, "from": {"1"}, "count": {"10000"}}
	if err := c.http.GetJSON(ctx, c.apiURL("user.status", params), nil, &subs); err != nil {
		return err
	}
	if subs.Status != "OK" {
		return fmt.Errorf("user.status: %s", subs.Comment)
	}
	seen := map[string]struct{}{}
	for _, s := range subs.Result {
		if s.Verdict != "OK" {
			continue
		}
		key := fmt.Sprintf("%d-%s", s.Problem.ContestID, s.Problem.Index)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		profile.Solved.Total++
		switch {
		case s.Problem.Rating == 0:
			profile.Solved.Buckets["unrated"]++
		case s.Problem.Rating < 1200:
			profile.Solved.Buckets["easy"]++
		case s.Problem.Rating < 1800:
			profile.Solved.Buckets["medium"]++
		default:
			profile.Solved.Buckets["hard"]++
		}
	}
	return nil
}

func (c *Client) fillContests(ctx context.Context, username string, profile *core.NormalizedProfile) error {
	var changes apiEnvelope[[]struct {
		ContestID int64 `json:"contestId"`
	}]
	if err := c.http.GetJSON(ctx, c.apiURL("user.rating", url.Values{"handle": {username}}), nil, &changes); err != nil {
		return err
	}
	if changes.Status != "OK" {
		return fmt.Errorf("user.rating: %s", changes.Comment)
	}
	profile.Contests = int64(len(changes.Result))
	return nil
}

// Package codechef fetches profiles through the community-maintained
// CodeChef wrapper API, falling back to scraping the public profile
// page when the wrapper is down.
package codechef

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for CodeChef: 3 points per solved problem, quadratic rating
// above 1400, 8 points per contest.
var Weights = core.ScoreWeights{Volume: 3, RatingFloor: 1400, RatingDivisor: 35, Contest: 8}

// Config configures the adapter.
type Config struct {
	// WrapperURL is the community wrapper base, default
	// https://codechef-api.vercel.app.
	WrapperURL string
	// SiteURL is the scrape fallback base, default https://www.codechef.com.
	SiteURL string
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the CodeChef platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

func New(cfg Config) *Client {
	if cfg.WrapperURL == "" {
		cfg.WrapperURL = "https://codechef-api.vercel.app"
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://www.codechef.com"
	}
	cfg.WrapperURL = strings.TrimSuffix(cfg.WrapperURL, "/")
	cfg.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformCodeChef, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformCodeChef, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformCodeChef }

// Fetch resolves a CodeChef handle: wrapper API first, page scrape as
// the last resort. Scraped results are flagged partial.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformCodeChef, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return fetch.Run(ctx, core.PlatformCodeChef, username, []fetch.Strategy{
		{Name: "wrapper-api", Run: c.fetchWrapper},
		{Name: "scrape-profile", Run: c.fetchScrape},
	})
}

func (c *Client) fetchWrapper(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var body struct {
		Success         bool    `json:"success"`
		Status          int     `json:"status"`
		CurrentRating   float64 `json:"currentRating"`
		HighestRating   float64 `json:"highestRating"`
		Stars           string  `json:"stars"`
		GlobalRank      int64   `json:"globalRank"`
		ProblemsSolved  int64   `json:"problemsSolved"`
		ContestsAttended int64  `json:"contestsAttended"`
	}
	url := c.cfg.WrapperURL + "/handle/" + username
	if err := c.http.GetJSON(ctx, url, nil, &body); err != nil {
		// the wrapper answers 404 only for unknown handles
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformCodeChef, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	if !body.Success {
		if body.Status == http.StatusNotFound {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformCodeChef, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull,
			core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformCodeChef, username, "wrapper reported failure", nil)
	}

	profile := core.NormalizedProfile{
		Username:  username,
		Rating:    body.CurrentRating,
		MaxRating: body.HighestRating,
		Rank:      strings.TrimSpace(body.Stars),
		Contests:  body.ContestsAttended,
		Solved:    core.SolvedBreakdown{Total: body.ProblemsSolved},
	}
	profile.Score = Weights.Score(profile.Solved.Total, profile.Rating, profile.Contests)
	return profile, fetch.ConfidenceFull, nil
}

var solvedRe = regexp.MustCompile(`Total Problems Solved:\s*(\d+)`)

func (c *Client) fetchScrape(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	doc, err := c.http.GetDocument(ctx, c.cfg.SiteURL+"/users/"+username)
	if err != nil {
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformCodeChef, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidencePartial, err
	}

	// the page must positively identify the user before any number on it
	// can be trusted; markup drift degrades to an unavailable error, not
	// a zeroed success
	header := strings.TrimSpace(doc.Find(".user-details-container header h1").First().Text())
	if header == "" {
		return core.NormalizedProfile{}, fetch.ConfidencePartial,
			core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformCodeChef, username,
				"profile markup did not confirm the user", nil)
	}

	profile := core.NormalizedProfile{
		Username: username,
		Solved:   core.SolvedBreakdown{},
	}
	if txt := doc.Find(".rating-number").First().Text(); txt != "" {
		if rating, err := strconv.ParseFloat(strings.TrimSpace(txt), 64); err == nil {
			profile.Rating = rating
			profile.MaxRating = rating
		}
	}
	if m := solvedRe.FindStringSubmatch(doc.Find(".rating-data-section.problems-solved").Text()); len(m) == 2 {
		profile.Solved.Total, _ = strconv.ParseInt(m[1], 10, 64)
	}
	profile.Score = Weights.Score(profile.Solved.Total, profile.Rating, profile.Contests)
	return profile, fetch.ConfidencePartial, nil
}

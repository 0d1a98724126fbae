// Package geeksforgeeks fetches profiles by scraping the public
// GeeksforGeeks profile page. There is no official API; the page markup
// is the canonical source, with an unofficial practice endpoint as
// fallback. Schema drift in either degrades to an error, never to a
// fabricated zero profile.
package geeksforgeeks

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for GeeksforGeeks: 2 points per solved problem, no rating
// term (the site has coding score, not a contest rating), 3 points per
// contest.
var Weights = core.ScoreWeights{Volume: 2, Contest: 3}

// Config configures the adapter.
type Config struct {
	// SiteURL defaults to https://www.geeksforgeeks.org.
	SiteURL string
	// PracticeURL is the unofficial API base, default
	// https://practiceapi.geeksforgeeks.org.
	PracticeURL string
	Timeout     time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the GeeksforGeeks platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

func New(cfg Config) *Client {
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://www.geeksforgeeks.org"
	}
	if cfg.PracticeURL == "" {
		cfg.PracticeURL = "https://practiceapi.geeksforgeeks.org"
	}
	cfg.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")
	cfg.PracticeURL = strings.TrimSuffix(cfg.PracticeURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformGeeksforGeeks, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformGeeksforGeeks, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformGeeksforGeeks }

// Fetch resolves a GeeksforGeeks username.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformGeeksforGeeks, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return fetch.Run(ctx, core.PlatformGeeksforGeeks, username, []fetch.Strategy{
		{Name: "scrape-profile", Run: c.fetchScrape},
		{Name: "practice-api", Run: c.fetchPracticeAPI},
	})
}

// difficulty buckets the profile page lists solved counts under
var difficultyLabels = []string{"school", "basic", "easy", "medium", "hard"}

func (c *Client) fetchScrape(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	doc, err := c.http.GetDocument(ctx, c.cfg.SiteURL+"/user/"+username+"/")
	if err != nil {
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformGeeksforGeeks, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	if pageSaysMissing(doc) {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformGeeksforGeeks, username)
	}

	// the handle shown on the page is the existence confirmation
	handle := strings.TrimSpace(doc.Find(".profile_name").First().Text())
	if handle == "" {
		return core.NormalizedProfile{}, fetch.ConfidenceFull,
			core.NewFetchError(core.KindUpstreamUnavailable, core.PlatformGeeksforGeeks, username,
				"profile markup did not confirm the user", nil)
	}

	profile := core.NormalizedProfile{
		Username: handle,
		Solved:   core.SolvedBreakdown{Buckets: map[string]int64{}},
	}
	doc.Find(".problem_solved").Each(func(_ int, sel *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(sel.Find(".problem_level").Text()))
		count := parseCount(sel.Find(".problem_count").Text())
		for _, known := range difficultyLabels {
			if strings.Contains(label, known) {
				profile.Solved.Buckets[known] = count
				profile.Solved.Total += count
				break
			}
		}
	})
	if txt := doc.Find(".contest_attended").First().Text(); txt != "" {
		profile.Contests = parseCount(txt)
	}
	profile.Score = Weights.Score(profile.Solved.Total, 0, profile.Contests)
	return profile, fetch.ConfidenceFull, nil
}

func (c *Client) fetchPracticeAPI(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var body struct {
		Message string `json:"message"`
		Data    *struct {
			TotalProblemsSolved int64 `json:"total_problems_solved"`
			ContestsAttended    int64 `json:"contests_attended"`
		} `json:"data"`
	}
	url := c.cfg.PracticeURL + "/api/v1/user/" + username + "/profile/"
	if err := c.http.GetJSON(ctx, url, nil, &body); err != nil {
		// the endpoint is user-keyed: a 404 is a confirmed absence
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformGeeksforGeeks, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidencePartial, err
	}
	if body.Data == nil {
		if strings.Contains(strings.ToLower(body.Message), "not found") {
			return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformGeeksforGeeks, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidencePartial,
			core.NewFetchError(core.KindValidation, core.PlatformGeeksforGeeks, username,
				"practice api returned no data", nil)
	}

	profile := core.NormalizedProfile{
		Username: username,
		Solved:   core.SolvedBreakdown{Total: body.Data.TotalProblemsSolved},
		Contests: body.Data.ContestsAttended,
	}
	profile.Score = Weights.Score(profile.Solved.Total, 0, profile.Contests)
	return profile, fetch.ConfidencePartial, nil
}

func pageSaysMissing(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Find("body").Text())
	return strings.Contains(text, "profile could not be found") ||
		strings.Contains(text, "profile not found")
}

func parseCount(s string) int64 {
	s = strings.TrimFunc(strings.TrimSpace(s), func(r rune) bool { return r < '0' || r > '9' })
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

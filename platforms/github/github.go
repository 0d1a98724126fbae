// Package github fetches coding-activity profiles from GitHub, which
// exposes both a REST and a GraphQL API. The GraphQL contributions
// query is the primary source when a token is configured; the
// unauthenticated REST profile is the fallback and yields a partial
// result because contribution totals are unavailable there.
package github

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/platforms/fetch"
)

// Weights for GitHub: 1 point per contribution, no rating or contest
// term; repository and follower counts land in the buckets only.
var Weights = core.ScoreWeights{Volume: 1}

// Config configures the adapter.
type Config struct {
	// APIURL defaults to https://api.github.com.
	APIURL string
	// GraphQLURL defaults to https://api.github.com/graphql.
	GraphQLURL string
	// Token enables the authenticated GraphQL path.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client is the GitHub platform adapter.
type Client struct {
	cfg  Config
	http *fetch.Client
}

func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = cfg.APIURL + "/graphql"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg}
	if cfg.HTTPClient != nil {
		c.http = fetch.NewClientWith(core.PlatformGitHub, cfg.HTTPClient)
	} else {
		c.http = fetch.NewClient(core.PlatformGitHub, cfg.Timeout)
	}
	return c
}

func (c *Client) Platform() core.Platform { return core.PlatformGitHub }

// Fetch resolves a GitHub login.
func (c *Client) Fetch(ctx context.Context, username string) (core.NormalizedProfile, error) {
	if err := core.ValidateUsername(core.PlatformGitHub, username); err != nil {
		return core.NormalizedProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	chain := []fetch.Strategy{}
	if c.cfg.Token != "" {
		chain = append(chain, fetch.Strategy{Name: "graphql-contributions", Run: c.fetchGraphQL})
	}
	chain = append(chain, fetch.Strategy{Name: "rest-profile", Run: c.fetchREST})
	return fetch.Run(ctx, core.PlatformGitHub, username, chain)
}

const contributionsQuery = `
query userContributions($login: String!) {
  user(login: $login) {
    login
    repositories(ownerAffiliations: OWNER) { totalCount }
    followers { totalCount }
    contributionsCollection {
      contributionCalendar { totalContributions }
    }
  }
}`

func (c *Client) fetchGraphQL(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var data struct {
		User *struct {
			Login        string `json:"login"`
			Repositories struct {
				TotalCount int64 `json:"totalCount"`
			} `json:"repositories"`
			Followers struct {
				TotalCount int64 `json:"totalCount"`
			} `json:"followers"`
			ContributionsCollection struct {
				ContributionCalendar struct {
					TotalContributions int64 `json:"totalContributions"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.Token}
	err := c.http.GraphQL(ctx, c.cfg.GraphQLURL, contributionsQuery, map[string]any{"login": username}, headers, &data)
	if err != nil {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, err
	}
	if data.User == nil {
		return core.NormalizedProfile{}, fetch.ConfidenceFull, core.NotFoundError(core.PlatformGitHub, username)
	}

	contributions := data.User.ContributionsCollection.ContributionCalendar.TotalContributions
	profile := core.NormalizedProfile{
		Username: data.User.Login,
		Solved: core.SolvedBreakdown{
			Total: contributions,
			Buckets: map[string]int64{
				"repositories": data.User.Repositories.TotalCount,
				"followers":    data.User.Followers.TotalCount,
			},
		},
	}
	profile.Score = Weights.Score(contributions, 0, 0)
	return profile, fetch.ConfidenceFull, nil
}

func (c *Client) fetchREST(ctx context.Context, username string) (core.NormalizedProfile, fetch.Confidence, error) {
	var user struct {
		Login       string `json:"login"`
		PublicRepos int64  `json:"public_repos"`
		Followers   int64  `json:"followers"`
	}
	if err := c.http.GetJSON(ctx, c.cfg.APIURL+"/users/"+username, nil, &user); err != nil {
		if fetch.IsStatus(err, http.StatusNotFound) {
			return core.NormalizedProfile{}, fetch.ConfidencePartial, core.NotFoundError(core.PlatformGitHub, username)
		}
		return core.NormalizedProfile{}, fetch.ConfidencePartial, err
	}

	// without the authenticated contributions query the volume figure is
	// an approximation from public repositories
	profile := core.NormalizedProfile{
		Username: user.Login,
		Solved: core.SolvedBreakdown{
			Total: user.PublicRepos,
			Buckets: map[string]int64{
				"repositories": user.PublicRepos,
				"followers":    user.Followers,
			},
		},
	}
	profile.Score = Weights.Score(user.PublicRepos, 0, 0)
	return profile, fetch.ConfidencePartial, nil
}

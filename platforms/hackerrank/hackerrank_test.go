package hackerrank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func newServer(t *testing.T, profileStatus int, badgesStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/contests/master/hackers/hacker_eve/profile":
			if profileStatus != http.StatusOK {
				w.WriteHeader(profileStatus)
				return
			}
			_, _ = w.Write([]byte(`{"model":{"username":"hacker_eve","name":"Eve"}}`))
		case "/rest/hackers/hacker_eve/badges":
			if badgesStatus != http.StatusOK {
				w.WriteHeader(badgesStatus)
				return
			}
			_, _ = w.Write([]byte(`{"models":[
				{"badge_name":"Problem Solving","category_name":"Algorithms","stars":5,"solved":120},
				{"badge_name":"SQL","category_name":"SQL","stars":3,"solved":40}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestFetchProfileWithBadges(t *testing.T) {
	srv := newServer(t, http.StatusOK, http.StatusOK)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	p, err := c.Fetch(context.Background(), "hacker_eve")
	require.NoError(t, err)

	assert.Equal(t, int64(160), p.Solved.Total)
	assert.Equal(t, int64(120), p.Solved.Buckets["algorithms"])
	assert.Equal(t, int64(40), p.Solved.Buckets["sql"])
	assert.False(t, p.Partial)
	// 160*1 + (5+3)*25 star bonus
	assert.InDelta(t, 360, p.Score, 0.001)
}

func TestFetchNotFound(t *testing.T) {
	srv := newServer(t, http.StatusNotFound, http.StatusNotFound)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Fetch(context.Background(), "hacker_eve")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestFetchBadgesOnlyFallback(t *testing.T) {
	srv := newServer(t, http.StatusServiceUnavailable, http.StatusOK)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	p, err := c.Fetch(context.Background(), "hacker_eve")
	require.NoError(t, err)
	assert.True(t, p.Partial)
	assert.Equal(t, int64(160), p.Solved.Total)
}

func TestFetchBadgesOnlyEmptyListIsNotExistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/contests/master/hackers/ghost_user/profile":
			w.WriteHeader(http.StatusInternalServerError)
		case "/rest/hackers/ghost_user/badges":
			_, _ = w.Write([]byte(`{"models":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	// with the profile endpoint down, an empty badge list confirms
	// nothing; the fetch must fail rather than report a zero success
	c := New(Config{BaseURL: srv.URL})
	_, err := c.Fetch(context.Background(), "ghost_user")
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamUnavailable, core.KindOf(err))
}

func TestFetchBadgeDataDownDegradesToPartial(t *testing.T) {
	srv := newServer(t, http.StatusOK, http.StatusServiceUnavailable)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	p, err := c.Fetch(context.Background(), "hacker_eve")
	require.NoError(t, err, "profile endpoint confirmed existence")
	assert.True(t, p.Partial)
	assert.Equal(t, int64(0), p.Solved.Total)
}

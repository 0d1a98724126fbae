package geeksforgeeks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

const profilePage = `<html><body>
<div class="profile_name">geek_bob</div>
<div class="problem_solved"><span class="problem_level">School</span><span class="problem_count">(40)</span></div>
<div class="problem_solved"><span class="problem_level">Basic</span><span class="problem_count">(60)</span></div>
<div class="problem_solved"><span class="problem_level">Easy</span><span class="problem_count">(120)</span></div>
<div class="problem_solved"><span class="problem_level">Medium</span><span class="problem_count">(70)</span></div>
<div class="problem_solved"><span class="problem_level">Hard</span><span class="problem_count">(10)</span></div>
<span class="contest_attended">5</span>
</body></html>`

func TestFetchScrapesProfile(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/geek_bob/", r.URL.Path)
		fmt.Fprint(w, profilePage)
	}))
	defer site.Close()

	c := New(Config{SiteURL: site.URL, PracticeURL: "http://unused.invalid"})
	p, err := c.Fetch(context.Background(), "geek_bob")
	require.NoError(t, err)

	assert.Equal(t, int64(300), p.Solved.Total)
	assert.Equal(t, int64(40), p.Solved.Buckets["school"])
	assert.Equal(t, int64(10), p.Solved.Buckets["hard"])
	assert.Equal(t, int64(5), p.Contests)
	assert.False(t, p.Partial)
	// 300*2 + 5*3
	assert.InDelta(t, 615, p.Score, 0.001)
}

func TestFetchNotFoundPage(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h2>The profile could not be found</h2></body></html>`)
	}))
	defer site.Close()

	c := New(Config{SiteURL: site.URL, PracticeURL: "http://unused.invalid"})
	_, err := c.Fetch(context.Background(), "ghostgeek")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestFetchFallsBackToPracticeAPI(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer site.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/user/geek_bob/profile/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"total_problems_solved":210,"contests_attended":3}}`))
	}))
	defer api.Close()

	c := New(Config{SiteURL: site.URL, PracticeURL: api.URL})
	p, err := c.Fetch(context.Background(), "geek_bob")
	require.NoError(t, err)
	assert.True(t, p.Partial)
	assert.Equal(t, int64(210), p.Solved.Total)
}

func TestScrapeDriftIsNotZeroSuccess(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="redesigned"></div></body></html>`)
	}))
	defer site.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	c := New(Config{SiteURL: site.URL, PracticeURL: api.URL})
	_, err := c.Fetch(context.Background(), "geek_bob")
	require.Error(t, err)
	assert.NotEqual(t, core.KindNotFound, core.KindOf(err))
}

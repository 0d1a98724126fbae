package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func okStrategy(name string, score float64) Strategy {
	return Strategy{Name: name, Run: func(context.Context, string) (core.NormalizedProfile, Confidence, error) {
		return core.NormalizedProfile{Score: score, Solved: core.SolvedBreakdown{Total: 1}}, ConfidenceFull, nil
	}}
}

func failStrategy(name string, err error) Strategy {
	return Strategy{Name: name, Run: func(context.Context, string) (core.NormalizedProfile, Confidence, error) {
		return core.NormalizedProfile{}, ConfidenceFull, err
	}}
}

func TestRunFirstConfirmedResultWins(t *testing.T) {
	chain := []Strategy{okStrategy("primary", 10), okStrategy("fallback", 99)}
	p, err := Run(context.Background(), core.PlatformLeetCode, "alice", chain)
	require.NoError(t, err)
	assert.Equal(t, float64(10), p.Score)
	assert.Equal(t, core.PlatformLeetCode, p.Platform)
	assert.Equal(t, "alice", p.Username)
	assert.False(t, p.Partial)
}

func TestRunFallsThroughTransientFailures(t *testing.T) {
	transient := core.NewFetchError(core.KindUpstreamUnavailable, "", "", "down", nil)
	chain := []Strategy{
		failStrategy("primary", transient),
		{Name: "fallback", Run: func(context.Context, string) (core.NormalizedProfile, Confidence, error) {
			return core.NormalizedProfile{Score: 5}, ConfidencePartial, nil
		}},
	}
	p, err := Run(context.Background(), core.PlatformCodeChef, "bob", chain)
	require.NoError(t, err)
	assert.True(t, p.Partial, "fallback result must carry the partial flag")
}

func TestRunNotFoundShortCircuits(t *testing.T) {
	calls := 0
	chain := []Strategy{
		failStrategy("primary", core.NotFoundError(core.PlatformCodeforces, "ghost")),
		{Name: "fallback", Run: func(context.Context, string) (core.NormalizedProfile, Confidence, error) {
			calls++
			return core.NormalizedProfile{}, ConfidenceFull, nil
		}},
	}
	_, err := Run(context.Background(), core.PlatformCodeforces, "ghost", chain)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.Contains(t, err.Error(), "not found")
	assert.Zero(t, calls, "a confirmed absence must stop the chain")
}

func TestRunReturnsLastErrorWhenAllFail(t *testing.T) {
	chain := []Strategy{
		failStrategy("a", core.NewFetchError(core.KindUpstreamUnavailable, "", "", "a down", nil)),
		failStrategy("b", errors.New("plain failure")),
	}
	_, err := Run(context.Background(), core.PlatformGitHub, "alice", chain)
	require.Error(t, err)
	var fe *core.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, core.PlatformGitHub, fe.Platform)
	assert.Equal(t, "alice", fe.Username)
}

func TestClientClassifiesStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/throttle":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	c := NewClient(core.PlatformHackerRank, 5*time.Second)
	ctx := context.Background()

	err := c.GetJSON(ctx, srv.URL+"/throttle", nil, nil)
	var fe *core.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, core.KindRateLimited, fe.Kind)
	assert.Equal(t, 7*time.Second, fe.RetryAfter)

	err = c.GetJSON(ctx, srv.URL+"/down", nil, nil)
	assert.Equal(t, core.KindUpstreamUnavailable, core.KindOf(err))

	err = c.GetJSON(ctx, srv.URL+"/missing", nil, nil)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(ctx, srv.URL+"/ok", nil, &out))
	assert.True(t, out.OK)
}

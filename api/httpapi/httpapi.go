package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	wsadapter "github.com/vajjipartisatwikraj/scope-codestats/adapters/websocket"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
	"github.com/vajjipartisatwikraj/scope-codestats/leaderboard"
	"github.com/vajjipartisatwikraj/scope-codestats/realtime"
	"github.com/vajjipartisatwikraj/scope-codestats/stats"
	"github.com/vajjipartisatwikraj/scope-codestats/syncer"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
}

// Deps are the backends the API serves from.
type Deps struct {
	Sync     *syncer.Service
	Profiles syncer.ProfileStore
	Users    syncer.UserStore
	Board    leaderboard.Board
	Metrics  *stats.SyncMetrics
	Hub      *realtime.Hub
}

// NewMux builds an http.Handler exposing the sync REST API and WebSocket stream.
// Routes:
//   - GET  {prefix}/healthz
//   - GET  {prefix}/leaderboard?limit=25
//   - GET  {prefix}/stats
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/profiles
//   - GET  {prefix}/users/{id}/score
//   - PUT  {prefix}/users/{id}/platforms/{platform}
//   - POST {prefix}/users/{id}/sync?platforms=leetcode,github
//   - POST {prefix}/sync/fleet
//   - WS   {prefix}/ws
func NewMux(deps Deps, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, deps)
	})

	if deps.Hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(deps.Hub))
	}

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/leaderboard"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
			return
		}
		limit := 25
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be 1..500", nil)
				return
			}
			limit = n
		}
		writeJSON(w, map[string]any{
			"entries": deps.Board.TopN(limit),
			"total":   deps.Board.Len(),
		})
	})

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/stats"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
			return
		}
		writeJSON(w, deps.Metrics.Snapshot())
	})

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/sync/fleet"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
			return
		}
		if deps.Sync.FleetRunning() {
			writeError(w, http.StatusConflict, "fleet_busy", "a fleet sync is already running", nil)
			return
		}
		// detached from the request context so the run survives the response
		go func() {
			_, _ = deps.Sync.RunFleetSync(context.Background())
		}()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"started": true})
	})

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), func(w http.ResponseWriter, r *http.Request) {
		handleUsers(w, r, deps, opts.PathPrefix)
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

func handleUsers(w http.ResponseWriter, r *http.Request, deps Deps, prefix string) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	parts := split(path, '/')
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	user, err := core.NormalizeUserID(core.UserID(parts[1]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		getUser(w, r, deps, user)
	case len(parts) == 3 && parts[2] == "profiles" && r.Method == http.MethodGet:
		getProfiles(w, r, deps, user)
	case len(parts) == 3 && parts[2] == "score" && r.Method == http.MethodGet:
		getScore(w, r, deps, user)
	case len(parts) == 3 && parts[2] == "sync" && r.Method == http.MethodPost:
		syncUser(w, r, deps, user)
	case len(parts) == 4 && parts[2] == "platforms" && r.Method == http.MethodPut:
		putUsername(w, r, deps, user, parts[3])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

func getProfiles(w http.ResponseWriter, r *http.Request, deps Deps, user core.UserID) {
	profiles, err := deps.Profiles.ListProfiles(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if len(profiles) == 0 {
		writeError(w, http.StatusNotFound, "unknown_user", "no platforms registered", nil)
		return
	}
	writeJSON(w, map[string]any{"user_id": user, "profiles": profiles})
}

func getScore(w http.ResponseWriter, r *http.Request, deps Deps, user core.UserID) {
	agg, err := deps.Users.GetAggregate(r.Context(), user)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_user", "no aggregate computed", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	resp := map[string]any{"user_id": user, "aggregate": agg}
	if rank, ok := deps.Board.Rank(user); ok {
		resp["rank"] = rank
	}
	writeJSON(w, resp)
}

func getUser(w http.ResponseWriter, r *http.Request, deps Deps, user core.UserID) {
	profiles, err := deps.Profiles.ListProfiles(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if len(profiles) == 0 {
		writeError(w, http.StatusNotFound, "unknown_user", "no platforms registered", nil)
		return
	}
	resp := map[string]any{
		"user_id":  user,
		"profiles": profiles,
	}
	if agg, err := deps.Users.GetAggregate(r.Context(), user); err == nil {
		resp["aggregate"] = agg
	} else if !errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if rank, ok := deps.Board.Rank(user); ok {
		resp["rank"] = rank
	}
	writeJSON(w, resp)
}

func syncUser(w http.ResponseWriter, r *http.Request, deps Deps, user core.UserID) {
	var platforms []core.Platform
	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			p, err := core.ParsePlatform(strings.TrimSpace(name))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_platform", err.Error(), nil)
				return
			}
			platforms = append(platforms, p)
		}
	}
	res, err := deps.Sync.SyncUser(r.Context(), user, platforms...)
	if err != nil {
		if core.IsStoreError(err) {
			writeError(w, http.StatusInternalServerError, "storage_failed", err.Error(), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "sync_failed", err.Error(), nil)
		return
	}
	writeJSON(w, res)
}

type usernameRequest struct {
	Username string `json:"username"`
}

func putUsername(w http.ResponseWriter, r *http.Request, deps Deps, user core.UserID, platformName string) {
	platform, err := core.ParsePlatform(platformName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_platform", err.Error(), nil)
		return
	}
	var req usernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "expected JSON body with username", nil)
		return
	}
	rec, err := deps.Sync.RegisterUsername(r.Context(), user, platform, req.Username)
	if err != nil {
		if core.KindOf(err) == core.KindInvalidUsername {
			// the rejected value was persisted with an error status;
			// return it so the caller sees exactly what was stored
			writeError(w, http.StatusUnprocessableEntity, "invalid_username", err.Error(), rec)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, rec)
}

// healthCheck verifies the storage backend answers.
func healthCheck(w http.ResponseWriter, r *http.Request, deps Deps) {
	_, err := deps.Users.ListUsers(r.Context())

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, status)
}

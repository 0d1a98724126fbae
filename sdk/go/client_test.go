package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClient_RegisterSyncGetUserHealth(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()

	rec, err := client.RegisterUsername(ctx, "alice", "leetcode", "alice_lc")
	if err != nil {
		t.Fatalf("register username: %v", err)
	}
	if rec.Username != "alice_lc" || rec.LastUpdateStatus != "pending" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	res, err := client.SyncUser(ctx, "alice", "leetcode")
	if err != nil {
		t.Fatalf("sync user: %v", err)
	}
	if res.Aggregate.TotalScore != 4200 {
		t.Fatalf("unexpected aggregate: %+v", res.Aggregate)
	}
	if res.Outcomes["leetcode"].Status != "success" {
		t.Fatalf("unexpected outcome: %+v", res.Outcomes)
	}

	summary, err := client.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if summary.UserID != "alice" || len(summary.Profiles) != 1 || summary.Rank != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_Leaderboard(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	page, err := client.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if page.Total != 2 || len(page.Entries) != 2 || page.Entries[0].User != "alice" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestClient_FleetBusyError(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = client.StartFleetSync(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "fleet_busy" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "profile_updated")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != "profile_updated" || evt.UserID != "alice" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

// test server implementing the minimal API surface expected by the SDK.
func newTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","checks":{"storage":"ok"}}`))
	})
	mux.HandleFunc("/api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"user_id":"alice","score":4200},{"user_id":"bob","score":1800}],"total":2}`))
	})
	mux.HandleFunc("/api/sync/fleet", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"fleet_busy","message":"a fleet sync is already running"}`))
	})
	mux.HandleFunc("/api/users/", func(w http.ResponseWriter, r *http.Request) {
		// /api/users/{id}[/sync|/platforms/{platform}]
		path := r.URL.Path[len("/api/users/"):]
		parts := strings.Split(path, "/")
		if len(parts) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		userID := parts[0]
		w.Header().Set("Content-Type", "application/json")
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"user_id":"` + userID + `","profiles":[{"user_id":"` + userID + `","platform":"leetcode","username":"alice_lc","score":4200,"solved":{"total":420},"last_update_status":"success"}],"aggregate":{"user_id":"` + userID + `","total_score":4200,"total_solved":420},"rank":1}`))
		case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"user_id":"` + userID + `","outcomes":{"leetcode":{"platform":"leetcode","status":"success","score":4200}},"aggregate":{"user_id":"` + userID + `","total_score":4200,"total_solved":420}}`))
		case len(parts) == 3 && parts[1] == "platforms" && r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"user_id":"` + userID + `","platform":"` + parts[2] + `","username":"alice_lc","last_update_status":"pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{
			"type":     "profile_updated",
			"time":     time.Now().UTC(),
			"user_id":  "alice",
			"platform": "leetcode",
			"score":    4200,
		})
		// hold the connection until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	return httptest.NewServer(mux)
}

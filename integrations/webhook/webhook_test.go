package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var mu sync.Mutex
	var hits int
	var eventType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		eventType = r.Header.Get("X-Event-Type")
		mu.Unlock()
		_, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL})
	sink.OnEvent(core.NewProfileUpdated("u1", core.PlatformLeetCode, 100))

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
	if eventType != string(core.EventProfileUpdated) {
		t.Fatalf("unexpected event type header: %q", eventType)
	}
}

func TestSink_SignsDeliveries(t *testing.T) {
	var mu sync.Mutex
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotSig = r.Header.Get("X-Signature")
		gotBody = body
		mu.Unlock()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithSecret("shh"))
	sink.OnEvent(core.NewScoreRecomputed("u1", 5900))

	mu.Lock()
	defer mu.Unlock()
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}
}

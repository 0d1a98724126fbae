package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewProfileUpdated("bob", core.PlatformLeetCode, 120)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventProfileUpdated {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestHubTypeFilter(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(2, core.EventScoreRecomputed)
	defer h.Unsubscribe(id)

	h.Broadcast(context.Background(), core.NewProfileUpdated("bob", core.PlatformLeetCode, 120))
	h.Broadcast(context.Background(), core.NewScoreRecomputed("bob", 500))

	received := <-ch
	if received.Type != core.EventScoreRecomputed {
		t.Fatalf("filter leaked event: %+v", received)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewScoreRecomputed("alice", 5900)
	b := MarshalJSON(ev)
	var out core.SyncEvent
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Total != 5900 {
		t.Fatalf("unexpected total: %v", out.Total)
	}
}

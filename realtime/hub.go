package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

type subscriber struct {
	ch    chan core.SyncEvent
	types map[core.SyncEventType]struct{} // nil means all
}

// Hub is a simple pub/sub for broadcasting sync events to channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a receiver. With no types given the receiver
// gets every event.
func (h *Hub) Subscribe(buffer int, types ...core.SyncEventType) (int, <-chan core.SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := subscriber{ch: make(chan core.SyncEvent, buffer)}
	if len(types) > 0 {
		sub.types = make(map[core.SyncEventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, ev core.SyncEvent) {
	h.mu.RLock()
	// copy to avoid holding lock during send
	receivers := make([]subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		receivers = append(receivers, sub)
	}
	h.mu.RUnlock()
	for _, sub := range receivers {
		if sub.types != nil {
			if _, want := sub.types[ev.Type]; !want {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default: /* drop if full */
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.SyncEvent) []byte {
	b, _ := json.Marshal(ev)
	return b
}

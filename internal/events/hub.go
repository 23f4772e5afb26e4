// Package events is the in-process fan-out bus behind the live activity feed.
// Producers publish fire-and-forget; each subscriber owns a buffered channel
// and slow consumers lose events instead of blocking the request path.
package events

import (
	"sync"
	"time"
)

// Event types published by the proxy.
const (
	EventUsage      = "usage"
	EventCredential = "credential"
	EventConfig     = "config"
)

type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type Hub struct {
	mu     sync.Mutex
	subs   map[int64]chan Event
	nextID int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]chan Event)}
}

// Subscribe returns a receive channel and its cancel function. The channel
// closes on cancel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A full
// subscriber buffer drops the event for that subscriber only.
func (h *Hub) Publish(event string, payload interface{}) {
	e := Event{Type: event, Timestamp: time.Now().UTC(), Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

package events

import (
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Subscription receives events of one session until cancelled.
type Subscription struct {
	ID        string
	SessionID string
	C         <-chan Event
	ch        chan Event
}

// Hub is a fan-out bus partitioned by session id. Delivery never blocks:
// slow subscribers miss events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]*Subscription)}
}

// Publish sends the event to the session's subscribers.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs[e.SessionID] {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{ID: uuid.NewString(), SessionID: sessionID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]*Subscription)
	}
	h.subs[sessionID][sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sub.SessionID]
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.subs, sub.SessionID)
	}
	close(sub.ch)
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	h.subs = nil
}

package event

import (
	"sync"

	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// Hub fans committed events out to feed subscribers. Delivery is best-effort:
// a subscriber whose buffer is full is closed and removed, and must replay
// the journal to catch up. The journal, not the hub, is the source of truth.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan storage.Event]struct{}
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan storage.Event]struct{})}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned channel is closed when the subscriber falls behind or the
// hub shuts down.
func (h *Hub) Subscribe(buffer int) <-chan storage.Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan storage.Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch <-chan storage.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for subscriber := range h.subscribers {
		if subscriber == ch {
			delete(h.subscribers, subscriber)
			close(subscriber)
			return
		}
	}
}

// Publish delivers events to every subscriber that can keep up. Slow
// subscribers are dropped so a stalled connection cannot block commits.
func (h *Hub) Publish(events ...storage.Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for subscriber := range h.subscribers {
		delivered := true
		for _, evt := range events {
			select {
			case subscriber <- evt:
			default:
				delivered = false
			}
			if !delivered {
				break
			}
		}
		if !delivered {
			delete(h.subscribers, subscriber)
			close(subscriber)
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close drops every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for subscriber := range h.subscribers {
		delete(h.subscribers, subscriber)
		close(subscriber)
	}
}

package notify

import (
	"context"
	"sync"
	"time"
)

// Hub fan-outs notifications to all active in-process subscribers (the SSE
// lifecycle event stream). It implements Notifier so it can sit next to the
// real delivery channel via Multi.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Notification
	next int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// notifications. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Notification {
	ch := make(chan Notification, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the notification to all subscribers.
func (h *Hub) Publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Send implements Notifier. Publishing never fails.
func (h *Hub) Send(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	h.Publish(n)
	return nil
}

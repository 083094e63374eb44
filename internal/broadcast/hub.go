// Package broadcast fans snapshots out to in-process subscribers.
package broadcast

import (
	"log/slog"
	"sync"
)

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Hub keeps an ordered set of subscriber callbacks. Publish calls them in
// registration order, outside the hub's lock, so a callback may subscribe
// or unsubscribe without deadlocking.
type Hub[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub[T any](logger *slog.Logger) *Hub[T] {
	return &Hub[T]{logger: logger}
}

// Subscribe registers fn and returns its id and an idempotent cancel func.
func (h *Hub[T]) Subscribe(fn func(T)) (uint64, func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})
	h.mu.Unlock()
	return id, func() { h.Unsubscribe(id) }
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (h *Hub[T]) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber. A panicking subscriber is logged
// and skipped so the rest still receive the snapshot.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	subs := make([]subscriber[T], len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, v)
	}
}

func (h *Hub[T]) deliver(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked", "subscriber", s.id, "panic", r)
		}
	}()
	s.fn(v)
}

// Count returns the number of registered subscribers.
func (h *Hub[T]) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

package simhost

import "sync"

// hooks is a list of subscribers. Callbacks run on the emitting goroutine;
// removing a subscriber waits for callbacks already running.
type hooks[T any] struct {
	mu   sync.RWMutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func (h *hooks[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

// emit must not be called from one of its own callbacks.
func (h *hooks[T]) emit(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.fn(v)
	}
}

func (h *hooks[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("feed closed")

type subscriber[T any] struct {
	id      uint64
	deliver func(T)
}

// Hub fans values out to subscribers keyed by an entity ID.
// Delivery runs on the publisher's goroutine, outside the hub lock.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber[T]
	nextID uint64
	closed bool
}

// NewHub creates an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[string][]subscriber[T])}
}

// Subscribe registers deliver for key. The subscription ends when the
// returned function is called or ctx is done, whichever comes first.
func (h *Hub[T]) Subscribe(ctx context.Context, key string, deliver func(T)) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[key] = append(h.subs[key], subscriber[T]{id: id, deliver: deliver})
	h.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			h.remove(key, id)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()

	return unsubscribe, nil
}

func (h *Hub[T]) remove(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[key]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.subs, key)
		return
	}
	h.subs[key] = list
}

// Publish delivers v to every subscriber of key and returns how many received it.
func (h *Hub[T]) Publish(key string, v T) int {
	h.mu.RLock()
	list := append([]subscriber[T](nil), h.subs[key]...)
	h.mu.RUnlock()

	for _, s := range list {
		s.deliver(v)
	}
	return len(list)
}

// Subscribers returns the number of live subscriptions for key.
func (h *Hub[T]) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Keys returns the keys that currently have subscribers.
func (h *Hub[T]) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	return keys
}

// Close drops every subscription and rejects new ones.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[string][]subscriber[T])
}

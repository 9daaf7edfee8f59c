// Package session holds the process-wide mutable session state of the
// broker: the pending-request registries, the unlock cache and the connected
// tab set. Everything here is in-memory; persistence lives in storage.
package session

import (
	"log/slog"
	"sync"
)

// Feed is a minimal observable holding a current value. A new subscriber
// receives the current value synchronously at subscribe time, then every
// published value until it unsubscribes. Publishing and delivery happen under
// one lock so no subscriber can observe two mutations out of order.
type Feed[T any] struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func(T)
	current T
	primed  bool
}

// NewFeed creates an empty feed with no current value.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]func(T))}
}

// Subscribe registers cb and returns its unsubscribe function. If the feed
// already holds a value, cb is invoked with it before Subscribe returns, so a
// late subscriber never waits for the next mutation. Callbacks must not call
// back into the feed.
func (f *Feed[T]) Subscribe(cb func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = cb

	if f.primed {
		deliver(cb, f.current)
	}

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish stores value as current and delivers it to every subscriber. A
// panicking subscriber is logged and skipped; it never breaks delivery to the
// others.
func (f *Feed[T]) Publish(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = value
	f.primed = true

	for _, cb := range f.subs {
		deliver(cb, value)
	}
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func deliver[T any](cb func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("feed subscriber panicked", "panic", r)
		}
	}()
	cb(value)
}

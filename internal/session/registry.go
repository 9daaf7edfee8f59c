package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
)

// Meta carries the connection-scoped identity of a pending request.
type Meta struct {
	TabID  string
	Origin string
	URL    string
}

// Pending is the subscriber-visible summary of one outstanding request.
type Pending[P any] struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tabId"`
	Origin    string    `json:"origin"`
	URL       string    `json:"url"`
	Payload   P         `json:"request"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome settles a pending request: exactly one of Value or Err is
// meaningful, discriminated by Err being nil.
type Outcome[R any] struct {
	Value R
	Err   error
}

type entry[P, R any] struct {
	pending Pending[P]
	done    chan Outcome[R] // buffered(1); written exactly once
}

// Registry tracks the pending requests of one kind and guarantees each entry
// settles at most once. All mutation plus the follow-up broadcast happens
// under one mutex, preserving snapshot ordering across goroutines.
type Registry[P, R any] struct {
	mu      sync.Mutex
	entries map[string]*entry[P, R]
	order   []string
	feed    *Feed[[]Pending[P]]
}

// NewRegistry creates an empty registry. Its feed starts with an empty
// snapshot so the first subscriber sees a defined state.
func NewRegistry[P, R any]() *Registry[P, R] {
	r := &Registry[P, R]{
		entries: make(map[string]*entry[P, R]),
		feed:    NewFeed[[]Pending[P]](),
	}
	r.feed.Publish([]Pending[P]{})
	return r
}

// Enqueue creates a new pending entry and returns its id together with the
// channel that receives the eventual outcome. Enqueue never blocks on the
// outcome; the returned channel settles when Resolve or Reject is called.
//
// The id is a hint only. Callers pass ids chosen by untrusted pages, and two
// tabs routinely pick the same one, so an empty or already-taken id gets a
// fresh generated one instead of displacing the existing entry. Callers must
// use the returned id for any later Get/Resolve/Reject.
func (r *Registry[P, R]) Enqueue(id string, payload P, meta Meta) (string, <-chan Outcome[R]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.entries[id]; id == "" || taken {
		id = uuid.NewString()
	}

	e := &entry[P, R]{
		pending: Pending[P]{
			ID:        id,
			TabID:     meta.TabID,
			Origin:    meta.Origin,
			URL:       meta.URL,
			Payload:   payload,
			CreatedAt: time.Now(),
		},
		done: make(chan Outcome[R], 1),
	}

	r.entries[id] = e
	r.order = append(r.order, id)
	r.feed.Publish(r.snapshotLocked())

	return id, e.done
}

// Get looks up a pending entry by id.
func (r *Registry[P, R]) Get(id string) (Pending[P], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var zero Pending[P]
		return zero, false
	}
	return e.pending, true
}

// Resolve settles the entry with a value and removes it. An unknown id
// returns ErrNotFound: the request may already have settled or its tab may
// have disconnected, which is user-visible but never fatal.
func (r *Registry[P, R]) Resolve(id string, value R) error {
	return r.settle(id, Outcome[R]{Value: value})
}

// Reject settles the entry with an error and removes it.
func (r *Registry[P, R]) Reject(id string, err error) error {
	return r.settle(id, Outcome[R]{Err: err})
}

func (r *Registry[P, R]) settle(id string, out Outcome[R]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return apperrors.ErrNotFound
	}

	r.removeLocked(id)
	e.done <- out
	r.feed.Publish(r.snapshotLocked())

	return nil
}

// DeleteByTab rejects every entry owned by the tab with Cancelled and removes
// them, so a closed tab never leaks promises that can no longer settle.
// Returns the number of entries removed.
func (r *Registry[P, R]) DeleteByTab(tabID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int
	for _, id := range append([]string(nil), r.order...) {
		e := r.entries[id]
		if e == nil || e.pending.TabID != tabID {
			continue
		}
		r.removeLocked(id)
		e.done <- Outcome[R]{Err: apperrors.ErrCancelled}
		removed++
	}

	if removed > 0 {
		r.feed.Publish(r.snapshotLocked())
	}
	return removed
}

// Subscribe attaches cb to the pending-list feed. The current snapshot is
// delivered synchronously before Subscribe returns.
func (r *Registry[P, R]) Subscribe(cb func([]Pending[P])) func() {
	return r.feed.Subscribe(cb)
}

// Len returns the number of pending entries.
func (r *Registry[P, R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// snapshotLocked builds the insertion-ordered pending list. Oldest first, so
// "request N of M" pagination in the UI is stable across mutations.
func (r *Registry[P, R]) snapshotLocked() []Pending[P] {
	snapshot := make([]Pending[P], 0, len(r.entries))
	for _, id := range r.order {
		if e, ok := r.entries[id]; ok {
			snapshot = append(snapshot, e.pending)
		}
	}
	return snapshot
}

func (r *Registry[P, R]) removeLocked(id string) {
	delete(r.entries, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

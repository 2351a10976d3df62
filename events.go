package taskvault

import (
	"sort"
	"sync"
)

// EventKind discriminates change notifications
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventDeleted
	EventReloaded
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventReloaded:
		return "reloaded"
	default:
		return "unknown"
	}
}

// Event is a single change notification from one store.
// Entity is set for Added and Updated, ID for Added, Updated and Deleted;
// Reloaded carries neither.
type Event[T any] struct {
	Kind   EventKind
	ID     string
	Entity T
}

// Feed delivers change notifications for one store. Events fire
// synchronously on the goroutine that performed the mutation, after the
// store's lock has been released, in the order the mutations committed.
// Handlers that touch UI state must redispatch to their own thread.
//
// Subscribe returns a cancel func; calling it is the only way to detach a
// handler, so subscription lifetime is always explicit.
type Feed[T any] struct {
	mu   sync.Mutex
	subs map[int]func(Event[T])
	next int
}

func newFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]func(Event[T]))}
}

// Subscribe registers a handler and returns a cancel func that removes it.
// The cancel func is idempotent.
func (f *Feed[T]) Subscribe(fn func(Event[T])) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// publish invokes every subscribed handler in subscription order.
// Handlers run outside the feed lock, so a handler may subscribe or
// cancel without deadlocking.
func (f *Feed[T]) publish(ev Event[T]) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event[T]), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

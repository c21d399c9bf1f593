// Package reconcile implements the client half of the broadcast
// protocol: merging server-pushed updates and direct-response objects
// into one canonical list with at-most-once application. The same update
// arriving twice — once via the REST response, once via broadcast —
// leaves the list unchanged after the second application.
package reconcile

import "sort"

// Entity is anything with a stable server-assigned identifier
type Entity interface {
	EntityID() string
}

// Option configures a List
type Option[T Entity] func(*List[T])

// WithOrder keeps the list sorted by the given comparison after every
// change. Without it, inserts append in arrival order (chat semantics);
// with it, the list re-sorts (calendar by start time, tasks by sort key).
func WithOrder[T Entity](less func(a, b T) bool) Option[T] {
	return func(l *List[T]) {
		l.less = less
	}
}

// List is an ordered collection of domain entities keyed by id
type List[T Entity] struct {
	items []T
	less  func(a, b T) bool
}

// NewList creates an empty list
func NewList[T Entity](opts ...Option[T]) *List[T] {
	l := &List[T]{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply upserts one entity. An existing entity with the same id is
// replaced in place, preserving its position; otherwise the entity is
// appended. Idempotent: applying the same entity twice is a no-op the
// second time.
func (l *List[T]) Apply(item T) {
	id := item.EntityID()
	replaced := false
	for i := range l.items {
		if l.items[i].EntityID() == id {
			l.items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		l.items = append(l.items, item)
	}
	l.resort()
}

// Remove deletes the entity with the given id. Returns true if the list
// changed. A later Apply with the same id re-inserts; deletion is not a
// tombstone.
func (l *List[T]) Remove(id string) bool {
	for i := range l.items {
		if l.items[i].EntityID() == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the entity with the given id
func (l *List[T]) Get(id string) (T, bool) {
	for i := range l.items {
		if l.items[i].EntityID() == id {
			return l.items[i], true
		}
	}
	var zero T
	return zero, false
}

// Items returns a copy of the list in its current order
func (l *List[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of entities
func (l *List[T]) Len() int {
	return len(l.items)
}

func (l *List[T]) resort() {
	if l.less == nil {
		return
	}
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.less(l.items[i], l.items[j])
	})
}

// Package deferred holds a one-shot intent that is applied at the next completion
// of some step, then forgotten.
package deferred

import "sync"

// Queue stores at most one pending intent of type T. Setting a new intent replaces
// the previous one.
type Queue[T any] struct {
	mu      sync.Mutex
	pending *T
}

// Set records the intent to apply at the next completion step.
func (q *Queue[T]) Set(intent T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = &intent
}

// Pending returns the stored intent, if any, without consuming it.
func (q *Queue[T]) Pending() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		var zero T

		return zero, false
	}

	return *q.pending, true
}

// Apply hands the pending intent to fn exactly once and clears it. It reports whether
// an intent was applied.
func (q *Queue[T]) Apply(fn func(T)) bool {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	if pending == nil {
		return false
	}

	fn(*pending)

	return true
}

// Package optimistic holds client-side state that is updated before the
// server confirms a change and corrected once it answers.
package optimistic

import "sync"

// Value is a locally cached copy of server state. The visible value is the
// last server answer with every unsettled change applied on top, in order.
type Value[T any] struct {
	mu      sync.Mutex
	base    T
	pending []*Change[T]
	current T
}

// Change is one optimistic mutation waiting for the server
type Change[T any] struct {
	v      *Value[T]
	mutate func(T) T
	once   sync.Once
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{base: initial, current: initial}
}

// Get returns the current, possibly optimistic, value
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Pending returns the number of unsettled changes
func (v *Value[T]) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Apply shows mutate(current) immediately. The change stays pending until it
// is committed or rolled back.
func (v *Value[T]) Apply(mutate func(T) T) *Change[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	c := &Change[T]{v: v, mutate: mutate}
	v.pending = append(v.pending, c)
	v.current = mutate(v.current)
	return c
}

// Reconcile replaces the confirmed value with a server answer that does not
// include any pending change.
func (v *Value[T]) Reconcile(server T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base = server
	v.recompute()
}

// Commit settles the change with the server's answer, which includes it.
// Later calls and calls after Rollback do nothing.
func (c *Change[T]) Commit(server T) {
	c.once.Do(func() {
		c.v.mu.Lock()
		defer c.v.mu.Unlock()
		c.v.base = server
		c.v.remove(c)
	})
}

// Rollback drops the change. Other pending changes keep their effect.
func (c *Change[T]) Rollback() {
	c.once.Do(func() {
		c.v.mu.Lock()
		defer c.v.mu.Unlock()
		c.v.remove(c)
	})
}

func (v *Value[T]) remove(c *Change[T]) {
	for i, p := range v.pending {
		if p == c {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			break
		}
	}
	v.recompute()
}

func (v *Value[T]) recompute() {
	v.current = v.base
	for _, p := range v.pending {
		v.current = p.mutate(v.current)
	}
}

// Package buffer provides the bounded FIFO ring shared by the capture
// pipeline's rolling windows.
package buffer

import (
	"context"
	"fmt"
	"sync"

	assert "github.com/ZanzyTHEbar/assert-lib"
)

// Ring is a fixed-capacity FIFO buffer. When full, a push evicts the oldest
// element in O(1). Each Ring has a single writer; readers copy the contents
// under the same lock, so a reader never observes a partially updated
// sequence. The lock is held only for the push or the copy, never across
// capture or I/O work.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest element
	count int

	asserts *assert.AssertHandler
}

// NewRing returns an empty ring. A non-positive capacity is a programming
// defect and panics.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: non-positive ring capacity %d", capacity))
	}
	return &Ring[T]{
		items:   make([]T, capacity),
		asserts: assert.NewAssertHandler(),
	}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.items) {
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
	} else {
		r.items[(r.head+r.count)%len(r.items)] = v
		r.count++
	}

	r.asserts.Assert(context.Background(), r.count <= len(r.items), "ring count exceeds capacity")
}

// Snapshot returns the current contents, oldest first. The returned slice is
// a copy; later pushes do not affect it.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Len reports the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap reports the fixed capacity. The backing array never changes size after
// construction, so no lock is needed.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Package queue provides the fixed-capacity event queue used by the bus.
//
// Ring is a circular buffer with head/tail indices guarded by its own mutex.
// Any number of goroutines may Push; a single consumer is expected to Pop.
// Push never blocks and never evicts: when the ring is full it fails with
// ErrFull and leaves the contents untouched.
package queue

import (
	"errors"
	"sync"
)

// Queue errors
var (
	ErrFull     = errors.New("queue full")
	ErrClosed   = errors.New("queue closed")
	ErrCapacity = errors.New("queue capacity must be positive")
)

// Ring is a fixed-capacity FIFO ring buffer.
type Ring[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	tail   int
	closed bool
}

// New allocates a ring able to hold capacity elements.
// One extra cell is reserved to tell a full ring from an empty one.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	return &Ring[T]{buf: make([]T, capacity+1)}, nil
}

// Push appends v at the tail.
func (r *Ring[T]) Push(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	next := (r.tail + 1) % len(r.buf)
	if next == r.head {
		return ErrFull
	}
	r.buf[r.tail] = v
	r.tail = next
	return nil
}

// Pop removes the element at the head. It returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pop()
}

func (r *Ring[T]) pop() (T, bool) {
	var zero T
	if r.head == r.tail {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	return v, true
}

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.tail - r.head + len(r.buf)) % len(r.buf)
}

// Cap returns the number of elements the ring can hold.
func (r *Ring[T]) Cap() int {
	return len(r.buf) - 1
}

// Close makes every later Push fail with ErrClosed.
// Elements already queued stay poppable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Drain closes the ring and pops every remaining element, handing each to fn
// in FIFO order. fn runs without the ring lock held. It returns the number of
// drained elements.
func (r *Ring[T]) Drain(fn func(T)) int {
	r.Close()
	n := 0
	for {
		v, ok := r.Pop()
		if !ok {
			return n
		}
		n++
		if fn != nil {
			fn(v)
		}
	}
}

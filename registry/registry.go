// Package registry implements the fixed-capacity subscriber table of the bus.
//
// Subscribers live in a slot arena allocated once at construction. Used slots
// are threaded into a doubly-linked list ordered by ascending priority through
// index links, so insert, remove and ordered traversal never allocate.
// Equal priorities keep insertion order.
//
// Every operation takes the registry lock for the duration of one step only.
// Traversal marks the slot it hands out as InWork; the caller runs the
// subscriber with the lock released and the slot stays linked until the next
// step releases it. Removing an InWork slot waits for that release.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry errors
var (
	ErrFull     = errors.New("registry full")
	ErrNotFound = errors.New("subscriber not found")
	ErrClosed   = errors.New("registry closed")
	ErrCapacity = errors.New("registry capacity must be positive")
)

// State is the tag of a slot in the arena.
type State uint8

const (
	// Free slots are available for allocation and never linked.
	Free State = iota
	// Used slots are linked into the priority list.
	Used
	// InWork slots are linked and currently being invoked by the dispatcher.
	InWork
)

// String returns a string representation of the slot state.
func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Used:
		return "used"
	case InWork:
		return "in_work"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

const none int32 = -1

// Handle identifies a registration. The generation makes a handle go stale
// once its slot is freed, even if the slot is later reused.
type Handle struct {
	index int32
	gen   uint32
}

// Index returns the slot index of the handle.
func (h Handle) Index() int {
	return int(h.index)
}

// IsZero reports whether h is the zero handle, which never names a registration.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// String returns a string representation of the handle.
func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

// Entry is a copy of a registration handed out by traversal and snapshots.
type Entry[K, V any] struct {
	Handle   Handle
	Key      K
	Priority uint8
	Value    V
}

// Cursor tracks a traversal. The zero value starts at the list head.
type Cursor struct {
	pos     int32 // slot index + 1 of the InWork slot held, 0 if none
	started bool
}

// Done reports whether the traversal reached the end of the list.
func (c Cursor) Done() bool {
	return c.started && c.pos == 0
}

type slot[K, V any] struct {
	state    State
	key      K
	priority uint8
	value    V
	prev     int32
	next     int32
	gen      uint32
	removing bool
}

// Registry is a fixed-capacity, priority-ordered subscriber table.
type Registry[K, V any] struct {
	mu       sync.Mutex
	slots    []slot[K, V]
	head     int32
	count    int
	closed   bool
	released chan struct{} // closed when an InWork slot is released, nil when nobody waits
}

// New allocates a registry with room for capacity subscribers.
func New[K, V any](capacity int) (*Registry[K, V], error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	r := &Registry[K, V]{
		slots: make([]slot[K, V], capacity),
		head:  none,
	}
	for i := range r.slots {
		r.slots[i].prev = none
		r.slots[i].next = none
	}
	return r, nil
}

// Insert registers value under key with the given priority.
// The new entry is placed after every entry whose priority is lower or equal.
func (r *Registry[K, V]) Insert(key K, priority uint8, value V) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Handle{}, ErrClosed
	}
	idx := r.allocate()
	if idx == none {
		return Handle{}, ErrFull
	}

	s := &r.slots[idx]
	s.state = Used
	s.key = key
	s.priority = priority
	s.value = value
	s.prev = none
	s.next = none
	s.removing = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.link(idx)
	r.count++

	return Handle{index: idx, gen: s.gen}, nil
}

// Remove unregisters h.
//
// If the subscriber is being invoked, Remove blocks until the invocation
// returns, unless ctx was derived from WithActive for this very handle, in
// which case the removal is deferred to the end of the invocation and Remove
// returns at once. Either way the subscriber is never handed out again once
// Remove returns nil.
func (r *Registry[K, V]) Remove(ctx context.Context, h Handle) error {
	for {
		r.mu.Lock()
		s, err := r.lookup(h)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		if s.state != InWork {
			r.free(h.index)
			r.mu.Unlock()
			return nil
		}
		if r.isActive(ctx, h) {
			s.removing = true
			r.mu.Unlock()
			return nil
		}
		if r.released == nil {
			r.released = make(chan struct{})
		}
		wait := r.released
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get returns a copy of the registration named by h.
func (r *Registry[K, V]) Get(h Handle) (Entry[K, V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return Entry[K, V]{}, err
	}
	return Entry[K, V]{Handle: h, Key: s.key, Priority: s.priority, Value: s.value}, nil
}

// Status returns the slot state of h.
func (r *Registry[K, V]) Status(h Handle) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return Free, err
	}
	return s.state, nil
}

// Next releases the slot held by c and hands out the next entry whose key
// satisfies match, marking it InWork. A nil match accepts every entry.
// It returns false when the end of the list is reached.
func (r *Registry[K, V]) Next(c Cursor, match func(K) bool) (Cursor, Entry[K, V], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx int32
	switch {
	case c.pos != 0:
		idx = r.release(c.pos - 1)
	case c.started:
		return c, Entry[K, V]{}, false
	default:
		idx = r.head
	}

	for idx != none {
		s := &r.slots[idx]
		if match == nil || match(s.key) {
			s.state = InWork
			e := Entry[K, V]{
				Handle:   Handle{index: idx, gen: s.gen},
				Key:      s.key,
				Priority: s.priority,
				Value:    s.value,
			}
			return Cursor{pos: idx + 1, started: true}, e, true
		}
		idx = s.next
	}
	return Cursor{started: true}, Entry[K, V]{}, false
}

// Release gives back the slot held by c without advancing. It is used when a
// traversal is abandoned.
func (r *Registry[K, V]) Release(c Cursor) {
	if c.pos == 0 {
		return
	}
	r.mu.Lock()
	r.release(c.pos - 1)
	r.mu.Unlock()
}

// Entries returns the registrations in dispatch order.
func (r *Registry[K, V]) Entries() []Entry[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry[K, V], 0, r.count)
	for idx := r.head; idx != none; idx = r.slots[idx].next {
		s := &r.slots[idx]
		out = append(out, Entry[K, V]{
			Handle:   Handle{index: idx, gen: s.gen},
			Key:      s.key,
			Priority: s.priority,
			Value:    s.value,
		})
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the number of slots.
func (r *Registry[K, V]) Cap() int {
	return len(r.slots)
}

// Close rejects further inserts. Existing registrations are kept.
func (r *Registry[K, V]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Reset frees every slot and wakes blocked removers, which then observe
// ErrNotFound.
func (r *Registry[K, V]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zeroK K
	var zeroV V
	for i := range r.slots {
		s := &r.slots[i]
		s.state = Free
		s.key = zeroK
		s.value = zeroV
		s.prev = none
		s.next = none
		s.removing = false
	}
	r.head = none
	r.count = 0
	r.wake()
}

// allocate returns the first free slot or none.
func (r *Registry[K, V]) allocate() int32 {
	for i := range r.slots {
		if r.slots[i].state == Free {
			return int32(i)
		}
	}
	return none
}

// link splices idx after the last entry with priority <= its own.
func (r *Registry[K, V]) link(idx int32) {
	s := &r.slots[idx]
	if r.head == none {
		r.head = idx
		return
	}

	prev, cur := none, r.head
	for cur != none && r.slots[cur].priority <= s.priority {
		prev = cur
		cur = r.slots[cur].next
	}

	s.prev = prev
	s.next = cur
	if prev == none {
		r.head = idx
	} else {
		r.slots[prev].next = idx
	}
	if cur != none {
		r.slots[cur].prev = idx
	}
}

// free unlinks idx and returns it to the arena.
func (r *Registry[K, V]) free(idx int32) {
	s := &r.slots[idx]
	if s.prev != none {
		r.slots[s.prev].next = s.next
	} else {
		r.head = s.next
	}
	if s.next != none {
		r.slots[s.next].prev = s.prev
	}

	var zeroK K
	var zeroV V
	s.state = Free
	s.key = zeroK
	s.value = zeroV
	s.prev = none
	s.next = none
	s.removing = false
	r.count--
}

// release ends the invocation of idx and returns the index following it.
func (r *Registry[K, V]) release(idx int32) int32 {
	s := &r.slots[idx]
	next := s.next
	if s.state == InWork {
		if s.removing {
			r.free(idx)
		} else {
			s.state = Used
		}
	}
	r.wake()
	return next
}

func (r *Registry[K, V]) wake() {
	if r.released != nil {
		close(r.released)
		r.released = nil
	}
}

func (r *Registry[K, V]) lookup(h Handle) (*slot[K, V], error) {
	if h.gen == 0 || h.index < 0 || int(h.index) >= len(r.slots) {
		return nil, ErrNotFound
	}
	s := &r.slots[h.index]
	if s.state == Free || s.gen != h.gen || s.removing {
		return nil, ErrNotFound
	}
	return s, nil
}

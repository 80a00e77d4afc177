package eventbus

import (
	"context"
	"slices"
	"sync"
	"time"
)

// TestBus creates a bus configured for testing, with tracing and metrics
// disabled. Recovery stays enabled so a panicking handler fails the
// assertion instead of the test binary. Panics if the bus cannot be created
// (test setup error).
//
//	bus := eventbus.TestBus(4, 4)
//	defer bus.Stop(context.Background())
func TestBus(queueCapacity, subscriberCapacity uint16, opts ...Option) *Bus {
	opts = append([]Option{
		WithName("test-bus"),
		WithTracing(false),
		WithMetrics(false),
		WithIdleWait(10 * time.Millisecond),
	}, opts...)
	b, err := New(queueCapacity, subscriberCapacity, opts...)
	if err != nil {
		panic("eventbus.TestBus: " + err.Error())
	}
	return b
}

// RecordedCall is one handler invocation seen by a Recorder.
type RecordedCall struct {
	Subscriber string
	EventID    string
	Type       EventType
	// Data is a copy of the event input if it was resident.
	Data  []byte
	State any
	Time  time.Time
}

// Recorder records invocations of any number of handlers in the order the
// bus made them. Since dispatch is serial, the order across subscribers is
// the dispatch order.
type Recorder struct {
	mu    sync.Mutex
	calls []RecordedCall
	seen  chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(chan struct{}, 1)}
}

// Handler returns a handler that records its invocations under name and then
// calls next, if any.
func (r *Recorder) Handler(name string, next Handler) Handler {
	return func(ctx context.Context, ev Event, state any) error {
		call := RecordedCall{
			Subscriber: name,
			EventID:    ev.ID,
			Type:       ev.Type,
			State:      state,
			Time:       time.Now(),
		}
		if ev.Input.Resident() {
			call.Data = slices.Clone(ev.Input.Bytes())
		}
		r.mu.Lock()
		r.calls = append(r.calls, call)
		r.mu.Unlock()
		select {
		case r.seen <- struct{}{}:
		default:
		}

		if next != nil {
			return next(ctx, ev, state)
		}
		return nil
	}
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Subscribers returns the subscriber name of every call, in order.
func (r *Recorder) Subscribers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Subscriber
	}
	return out
}

// Payloads returns the recorded data of every call as strings, in order.
func (r *Recorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = string(c.Data)
	}
	return out
}

// Count returns the number of recorded calls.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset clears all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// WaitFor waits until at least n calls were recorded or timeout is reached.
// Returns true if the expected count was reached, false on timeout.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Count() >= n {
			return true
		}
		select {
		case <-r.seen:
		case <-deadline.C:
			return r.Count() >= n
		}
	}
}

// Gate is a handler that blocks the dispatch goroutine until opened. It is
// used to hold the worker inside a handler while the test fills the queue,
// unsubscribes or stops the bus.
type Gate struct {
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{
		entered: make(chan struct{}, 64),
		open:    make(chan struct{}),
	}
}

// Handler returns a handler that signals Entered and waits for Open.
func (g *Gate) Handler() Handler {
	return func(ctx context.Context, _ Event, _ any) error {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.open
		return nil
	}
}

// Entered receives once for every invocation that reached the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// WaitEntered waits until a handler reached the gate or timeout is reached.
func (g *Gate) WaitEntered(timeout time.Duration) bool {
	select {
	case <-g.entered:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Open releases all current and future invocations.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.open) })
}

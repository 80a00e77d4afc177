package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/eventbus/payload"
	"github.com/rbaliyan/eventbus/queue"
	"github.com/rbaliyan/eventbus/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	spanKeyEventID    = "eventbus.event.id"
	spanKeyEventGroup = "eventbus.event.group"
	spanKeyEventKind  = "eventbus.event.kind"
	spanKeyBus        = "eventbus.bus"
	spanKeyHandlers   = "eventbus.handlers"
)

// NewID generates a new unique ID
func NewID() string {
	return uuid.NewString()
}

// Bus is an in-process publish/subscribe bus with a fixed-capacity event
// queue, a fixed-capacity subscriber table and a single dispatch goroutine.
//
// Publish enqueues and returns; the worker pops events in FIFO order and
// invokes every matching subscriber in priority order, one at a time.
// All methods are safe for concurrent use.
type Bus struct {
	id      string
	opts    *options
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer

	state atomic.Int32
	queue *queue.Ring[Event]
	subs  *registry.Registry[EventType, subscriber]

	wake chan struct{} // buffered(1), signalled by Publish
	stop chan struct{} // closed by Stop
	done chan struct{} // closed when the worker exits

	stats counters
}

type counters struct {
	published     atomic.Uint64
	rejected      atomic.Uint64
	queueFull     atomic.Uint64
	dispatched    atomic.Uint64
	invocations   atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
	drained       atomic.Uint64
}

// New creates a bus holding up to queueCapacity pending events and
// subscriberCapacity subscribers, and starts its dispatch worker.
//
// Both tables are allocated once; nothing is resized afterwards. A zero
// capacity fails with ErrAllocation.
func New(queueCapacity, subscriberCapacity uint16, opts ...Option) (*Bus, error) {
	o := newOptions(opts...)

	if queueCapacity == 0 || subscriberCapacity == 0 {
		return nil, fmt.Errorf("%w: queue capacity %d, subscriber capacity %d",
			ErrAllocation, queueCapacity, subscriberCapacity)
	}
	q, err := queue.New[Event](int(queueCapacity))
	if err != nil {
		return nil, fmt.Errorf("%w: event queue: %v", ErrAllocation, err)
	}
	subs, err := registry.New[EventType, subscriber](int(subscriberCapacity))
	if err != nil {
		return nil, fmt.Errorf("%w: subscriber table: %v", ErrAllocation, err)
	}

	b := &Bus{
		id:     NewID(),
		opts:   o,
		logger: o.logger,
		queue:  q,
		subs:   subs,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	switch {
	case !o.metricsEnabled:
		b.metrics = NopMetrics{}
	case o.metrics != nil:
		b.metrics = o.metrics
	default:
		b.metrics = newOtelMetrics(o.name)
	}
	if o.tracingEnabled {
		b.tracer = otel.Tracer(o.name)
	}

	b.state.Store(int32(StateNotStarted))
	b.start()

	b.logger.Debug("bus started",
		"id", b.id,
		"queue_capacity", queueCapacity,
		"subscriber_capacity", subscriberCapacity)
	return b, nil
}

// NewDefault creates a bus with DefaultQueueCapacity and
// DefaultSubscriberCapacity.
func NewDefault(opts ...Option) (*Bus, error) {
	return New(DefaultQueueCapacity, DefaultSubscriberCapacity, opts...)
}

func (b *Bus) start() {
	b.state.Store(int32(StateWorking))
	go b.run()
}

// ID returns the unique ID of the bus.
func (b *Bus) ID() string {
	return b.id
}

// Name returns the bus name.
func (b *Bus) Name() string {
	return b.opts.name
}

// State returns the lifecycle state.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// Done returns a channel closed once the worker has stopped.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Publish queues an event of type typ. Ownership of in passes to the bus on
// success; the bus releases it once every matching subscriber has run, or
// when the event is discarded at shutdown. On error the caller keeps it.
//
// Publish never blocks on a full queue: it fails with ErrQueueFull instead.
// Types with a wildcard field fail with ErrInvalidType.
func (b *Bus) Publish(ctx context.Context, typ EventType, in payload.Input, res payload.Result) (err error) {
	if !typ.Valid() {
		b.reject(ctx, typ, ReasonInvalidType)
		return fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}
	if st := b.State(); st != StateWorking {
		b.reject(ctx, typ, ReasonNotRunning)
		return fmt.Errorf("%w: publish on %s bus", ErrInvalidState, st)
	}
	if !b.admit(ctx, typ) {
		b.reject(ctx, typ, ReasonRateLimited)
		return fmt.Errorf("%w: %s", ErrRateLimited, typ)
	}

	ev := Event{
		ID:          NewID(),
		Type:        typ,
		Input:       in,
		Result:      res,
		PublishedAt: time.Now(),
	}

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.Start(ctx, "eventbus.publish",
			trace.WithAttributes(
				attribute.String(spanKeyEventID, ev.ID),
				attribute.Int(spanKeyEventGroup, int(typ.Group)),
				attribute.Int(spanKeyEventKind, int(typ.Kind)),
				attribute.String(spanKeyBus, b.opts.name)),
			trace.WithSpanKind(trace.SpanKindProducer))
		ev.spanCtx = span.SpanContext()
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	if err := b.queue.Push(ev); err != nil {
		if errors.Is(err, queue.ErrFull) {
			b.stats.queueFull.Add(1)
			b.reject(ctx, typ, ReasonQueueFull)
			b.logger.Debug("queue full, event refused", "type", typ.String(), "capacity", b.queue.Cap())
			return fmt.Errorf("%w: %d events pending", ErrQueueFull, b.queue.Cap())
		}
		b.reject(ctx, typ, ReasonNotRunning)
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	b.signal()
	b.stats.published.Add(1)
	b.metrics.Published(ctx, typ)
	return nil
}

// PublishBytes publishes data as a resident payload whose result is
// discarded.
func (b *Bus) PublishBytes(ctx context.Context, typ EventType, data []byte) error {
	return b.Publish(ctx, typ, payload.Bytes(data), payload.Discard())
}

// PublishString publishes s as a resident payload whose result is discarded.
func (b *Bus) PublishString(ctx context.Context, typ EventType, s string) error {
	return b.Publish(ctx, typ, payload.String(s), payload.Discard())
}

// Subscribe registers h for events matching typ. Lower priority values run
// first; subscribers with equal priority run in registration order. state is
// passed to every invocation of h and is never freed by the bus.
//
// Subscribe may be called from within a handler. The traversal in progress
// sees the new subscriber if it sorts after the running handler.
func (b *Bus) Subscribe(ctx context.Context, typ EventType, priority uint8, state any, h Handler, opts ...SubscribeOption) (Handle, error) {
	if h == nil {
		return Handle{}, ErrNilHandler
	}
	if st := b.State(); st != StateWorking {
		return Handle{}, fmt.Errorf("%w: subscribe on %s bus", ErrInvalidState, st)
	}

	so := newSubscribeOptions(opts...)
	handle, err := b.subs.Insert(typ, priority, subscriber{
		name:    so.name,
		handler: Chain(so.middleware...)(h),
		state:   state,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrFull):
			return Handle{}, fmt.Errorf("%w: %d subscribers", ErrRegistryFull, b.subs.Cap())
		case errors.Is(err, registry.ErrClosed):
			return Handle{}, fmt.Errorf("%w: subscribe on stopping bus", ErrInvalidState)
		default:
			return Handle{}, err
		}
	}

	b.metrics.Subscribers(ctx, 1)
	b.logger.Debug("subscribed",
		"handle", handle.String(),
		"subscriber", so.name,
		"type", typ.String(),
		"priority", priority)
	return handle, nil
}

// SubscribeFunc registers fn without subscriber state.
func (b *Bus) SubscribeFunc(ctx context.Context, typ EventType, priority uint8, fn func(ctx context.Context, ev Event) error, opts ...SubscribeOption) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNilHandler
	}
	return b.Subscribe(ctx, typ, priority, nil, func(ctx context.Context, ev Event, _ any) error {
		return fn(ctx, ev)
	}, opts...)
}

// Unsubscribe removes the subscription h.
//
// If h's handler is running, Unsubscribe waits until it returns, so once
// Unsubscribe returns nil the handler is not running and will never run
// again, and its state may be freed. The wait is bounded by ctx. Called from
// h's own handler it returns at once and the removal completes when the
// handler returns.
func (b *Bus) Unsubscribe(ctx context.Context, h Handle) error {
	if st := b.State(); st == StateStopped || st == StateNotStarted {
		return fmt.Errorf("%w: unsubscribe on %s bus", ErrInvalidState, st)
	}
	if err := b.subs.Remove(ctx, h); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return err
	}

	b.metrics.Subscribers(ctx, -1)
	b.logger.Debug("unsubscribed", "handle", h.String())
	return nil
}

// Stop stops the bus: no new events are accepted, events still queued are
// released without being delivered, the handler running at the time, if any,
// completes, and the worker exits.
//
// Stop blocks until the worker has stopped or ctx is done. Calling it on a
// bus that is not working returns ErrInvalidState. Called from a handler it
// only requests the stop, since the worker cannot finish before the handler
// returns.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateWorking), int32(StateStopping)) {
		return fmt.Errorf("%w: stop on %s bus", ErrInvalidState, b.State())
	}
	close(b.stop)
	b.logger.Debug("stopping bus")

	if b.subs.InDispatch(ctx) {
		return nil
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns the current subscriptions in dispatch order.
func (b *Bus) Subscribers() []SubscriberInfo {
	entries := b.subs.Entries()
	out := make([]SubscriberInfo, len(entries))
	for i, e := range entries {
		out[i] = SubscriberInfo{
			Handle:   e.Handle,
			Name:     e.Value.name,
			Type:     e.Key,
			Priority: e.Priority,
		}
	}
	return out
}

func (b *Bus) admit(ctx context.Context, typ EventType) bool {
	if b.opts.limiter != nil && !b.opts.limiter.Allow(ctx) {
		return false
	}
	if b.opts.groupLimiter != nil && !b.opts.groupLimiter.Allow(typ.Group) {
		return false
	}
	return true
}

func (b *Bus) reject(ctx context.Context, typ EventType, reason string) {
	b.stats.rejected.Add(1)
	b.metrics.Rejected(ctx, typ, reason)
}

// signal wakes the worker if it is idle.
func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

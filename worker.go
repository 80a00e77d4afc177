package eventbus

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rbaliyan/eventbus/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run is the dispatch loop. It is the only goroutine popping the queue and
// invoking handlers.
func (b *Bus) run() {
	defer close(b.done)

	idle := time.NewTimer(b.opts.idleWait)
	defer idle.Stop()

	for b.State() == StateWorking {
		if ev, ok := b.queue.Pop(); ok {
			b.dispatch(ev)
			continue
		}
		idle.Reset(b.opts.idleWait)
		select {
		case <-b.wake:
		case <-b.stop:
		case <-idle.C:
		}
	}
	b.shutdown()
}

// dispatch delivers ev to every matching subscriber in priority order and
// releases its input afterwards. Subscriptions added or removed by a handler
// take effect for the rest of the traversal.
func (b *Bus) dispatch(ev Event) {
	defer ev.Input.Release()

	start := time.Now()
	ctx := context.Background()
	var span trace.Span
	if b.tracer != nil {
		opts := []trace.SpanStartOption{
			trace.WithAttributes(
				attribute.String(spanKeyEventID, ev.ID),
				attribute.Int(spanKeyEventGroup, int(ev.Type.Group)),
				attribute.Int(spanKeyEventKind, int(ev.Type.Kind)),
				attribute.String(spanKeyBus, b.opts.name)),
			trace.WithSpanKind(trace.SpanKindConsumer),
		}
		if ev.spanCtx.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: ev.spanCtx}))
		}
		ctx, span = b.tracer.Start(ctx, "eventbus.dispatch", opts...)
	}

	match := func(t EventType) bool { return t.Matches(ev.Type) }

	var (
		cur      registry.Cursor
		handlers int
		failed   int
	)
	for {
		if b.State() != StateWorking {
			// stop requested by a handler or concurrently; skip the rest
			b.subs.Release(cur)
			break
		}
		next, entry, ok := b.subs.Next(cur, match)
		cur = next
		if !ok {
			break
		}
		handlers++
		if err := b.invoke(ctx, ev, entry); err != nil {
			failed++
		}
	}

	elapsed := time.Since(start)
	b.stats.dispatched.Add(1)
	b.metrics.Dispatched(ctx, ev.Type, handlers, elapsed)

	if span != nil {
		span.SetAttributes(attribute.Int(spanKeyHandlers, handlers))
		if failed > 0 {
			span.SetStatus(codes.Error, "handler failed")
		}
		span.End()
	}
	if handlers == 0 {
		b.logger.Debug("no subscriber for event", "event_id", ev.ID, "type", ev.Type.String())
	}
}

// invoke runs one handler for ev. The entry's slot is InWork for the
// duration, so Unsubscribe of it from another goroutine waits.
func (b *Bus) invoke(ctx context.Context, ev Event, entry registry.Entry[EventType, subscriber]) error {
	sub := entry.Value
	logger := b.logger.With(
		"event_id", ev.ID,
		"type", ev.Type.String(),
		"subscriber", sub.name,
		"handle", entry.Handle.String())

	ctx = b.subs.WithActive(ctx, entry.Handle)
	ctx = withDispatch(ctx, &dispatchContext{
		bus:        b,
		eventID:    ev.ID,
		handle:     entry.Handle,
		subscriber: sub.name,
		logger:     logger,
	})

	b.stats.invocations.Add(1)
	err := b.call(ctx, sub, ev)
	if err == nil {
		return nil
	}

	panicked := IsHandlerPanic(err)
	if panicked {
		b.stats.handlerPanics.Add(1)
		logger.Error("handler panic recovered", "error", err)
	} else {
		b.stats.handlerErrors.Add(1)
		logger.Warn("handler failed", "error", err)
	}
	b.metrics.HandlerFailed(ctx, ev.Type, panicked)
	b.opts.onError(ev, err)
	return err
}

// call runs the handler, turning a panic into *HandlerPanicError when
// recovery is enabled.
func (b *Bus) call(ctx context.Context, sub subscriber, ev Event) (err error) {
	if b.opts.recoveryEnabled {
		defer func() {
			if r := recover(); r != nil {
				err = &HandlerPanicError{
					Subscriber: sub.name,
					Value:      r,
					Stack:      debug.Stack(),
				}
			}
		}()
	}
	return sub.handler(ctx, ev, sub.state)
}

// shutdown discards pending events, clears the subscriber table and marks
// the bus stopped.
func (b *Bus) shutdown() {
	ctx := context.Background()

	n := b.queue.Drain(func(ev Event) {
		ev.Input.Release()
	})
	if n > 0 {
		b.stats.drained.Add(uint64(n))
		b.metrics.Drained(ctx, n)
		b.logger.Info("discarded pending events", "count", n)
	}

	b.subs.Close()
	if remaining := b.subs.Len(); remaining > 0 {
		b.metrics.Subscribers(ctx, -remaining)
	}
	b.subs.Reset()

	b.state.Store(int32(StateStopped))
	b.logger.Debug("bus stopped")
}

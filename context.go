package eventbus

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	dispatchContextKey contextKey = iota
)

// dispatchContext is attached to the context handed to handlers.
type dispatchContext struct {
	bus        *Bus
	eventID    string
	handle     Handle
	subscriber string
	logger     *slog.Logger
}

func withDispatch(ctx context.Context, d *dispatchContext) context.Context {
	return context.WithValue(ctx, dispatchContextKey, d)
}

func dispatchFrom(ctx context.Context) *dispatchContext {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(dispatchContextKey).(*dispatchContext)
	return d
}

// ContextEventID returns the ID of the event being handled, or "" outside a
// handler.
func ContextEventID(ctx context.Context) string {
	if d := dispatchFrom(ctx); d != nil {
		return d.eventID
	}
	return ""
}

// ContextHandle returns the handle of the subscription being invoked.
func ContextHandle(ctx context.Context) (Handle, bool) {
	if d := dispatchFrom(ctx); d != nil {
		return d.handle, true
	}
	return Handle{}, false
}

// ContextSubscriber returns the name of the subscription being invoked.
func ContextSubscriber(ctx context.Context) string {
	if d := dispatchFrom(ctx); d != nil {
		return d.subscriber
	}
	return ""
}

// ContextBus returns the bus dispatching the current event.
func ContextBus(ctx context.Context) *Bus {
	if d := dispatchFrom(ctx); d != nil {
		return d.bus
	}
	return nil
}

// ContextLogger returns a logger annotated with the event and subscriber,
// or the default logger outside a handler.
func ContextLogger(ctx context.Context) *slog.Logger {
	if d := dispatchFrom(ctx); d != nil {
		return d.logger
	}
	return slog.Default()
}

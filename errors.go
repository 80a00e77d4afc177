package eventbus

import (
	"errors"
	"fmt"
)

// Bus errors. They are returned synchronously by the call that failed and are
// usually wrapped with details; use errors.Is to check for them.
var (
	// ErrAllocation is returned by New when the queue or the subscriber table
	// cannot be allocated. The bus does not exist.
	ErrAllocation = errors.New("eventbus: allocation failed")

	// ErrQueueFull is returned by Publish when the event queue is full.
	// Nothing was enqueued; the caller may retry or drop the event.
	ErrQueueFull = errors.New("eventbus: queue full")

	// ErrRegistryFull is returned by Subscribe when every slot is taken.
	ErrRegistryFull = errors.New("eventbus: subscriber table full")

	// ErrInvalidType is returned by Publish for a type with a wildcard field.
	ErrInvalidType = errors.New("eventbus: invalid event type")

	// ErrNotFound is returned by Unsubscribe for an unknown or removed handle.
	ErrNotFound = errors.New("eventbus: subscriber not found")

	// ErrInvalidState is returned when the bus is not in a state that allows
	// the call, e.g. publishing after Stop or stopping twice.
	ErrInvalidState = errors.New("eventbus: invalid state")

	// ErrRateLimited is returned by Publish when a configured rate limiter
	// refuses the event.
	ErrRateLimited = errors.New("eventbus: rate limited")

	// ErrNilHandler is returned by Subscribe when no handler is given.
	ErrNilHandler = errors.New("eventbus: nil handler")
)

// HandlerPanicError reports a recovered handler panic.
type HandlerPanicError struct {
	Subscriber string
	Value      any
	Stack      []byte
}

func (e *HandlerPanicError) Error() string {
	if e.Subscriber == "" {
		return fmt.Sprintf("handler panic: %v", e.Value)
	}
	return fmt.Sprintf("handler %q panic: %v", e.Subscriber, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsHandlerPanic checks if an error reports a recovered handler panic.
func IsHandlerPanic(err error) bool {
	var pe *HandlerPanicError
	return errors.As(err, &pe)
}

// CircuitOpenError is returned by a handler wrapped in
// CircuitBreakerMiddleware while its breaker is open.
type CircuitOpenError struct {
	Subscriber string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open", e.Subscriber)
}

// IsCircuitOpen checks if an error indicates an open circuit breaker.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

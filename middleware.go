package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rbaliyan/eventbus/ratelimit"
)

// Middleware wraps a handler.
type Middleware func(Handler) Handler

// Chain composes middleware so that the first one is outermost.
func Chain(mw ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			if mw[i] != nil {
				h = mw[i](h)
			}
		}
		return h
	}
}

// RecoveryMiddleware turns a panic of the wrapped handler into a
// *HandlerPanicError. The bus recovers handler panics itself unless
// WithRecovery(false) is set; this middleware scopes recovery to one
// subscription.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, state any) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &HandlerPanicError{
						Subscriber: ContextSubscriber(ctx),
						Value:      r,
						Stack:      debug.Stack(),
					}
				}
			}()
			return next(ctx, ev, state)
		}
	}
}

// LoggingMiddleware logs every invocation with its duration at debug level,
// and failures at warn level. A nil logger uses the dispatch logger.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, state any) error {
			l := logger
			if l == nil {
				l = ContextLogger(ctx)
			}
			start := time.Now()
			err := next(ctx, ev, state)
			if err != nil {
				l.Warn("handler returned error",
					"event_id", ev.ID,
					"type", ev.Type.String(),
					"duration", time.Since(start),
					"error", err)
				return err
			}
			l.Debug("handler done",
				"event_id", ev.ID,
				"type", ev.Type.String(),
				"duration", time.Since(start))
			return nil
		}
	}
}

// TimeoutMiddleware gives the handler a context that is cancelled after d.
// Handlers run on the dispatch goroutine, so the handler must honour the
// context for the timeout to have any effect.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, state any) error {
			if d <= 0 {
				return next(ctx, ev, state)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, ev, state)
		}
	}
}

// RateLimitMiddleware skips invocations refused by l. Skipped events are not
// failures; the handler just does not see them.
func RateLimitMiddleware(l ratelimit.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, state any) error {
			if !l.Allow(ctx) {
				ContextLogger(ctx).Debug("handler rate limited, event skipped", "event_id", ev.ID)
				return nil
			}
			return next(ctx, ev, state)
		}
	}
}

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed means invocations pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means invocations fail fast.
	CircuitOpen
	// CircuitHalfOpen means a limited number of invocations probe whether
	// the handler recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CircuitBreaker stops invoking a handler after consecutive failures and
// retries it once the cool-down has passed.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	now              func() time.Time

	state     CircuitState
	failures  int
	successes int
	changedAt time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures, moves to half-open after coolDown and closes again
// after successThreshold consecutive successes. Non-positive arguments
// default to 5, 2 and 30s.
func NewCircuitBreaker(failureThreshold, successThreshold int, coolDown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		coolDown:         coolDown,
		now:              time.Now,
		changedAt:        time.Now(),
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether an invocation may proceed. An open breaker whose
// cool-down has elapsed moves to half-open and allows it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(cb.changedAt) < cb.coolDown {
		return false
	}
	cb.transition(CircuitHalfOpen)
	return true
}

// RecordSuccess records a successful invocation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != CircuitHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.successThreshold {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure records a failed invocation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.failures++
	switch cb.state {
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	case CircuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	cb.state = to
	cb.successes = 0
	if to == CircuitClosed {
		cb.failures = 0
	}
	cb.changedAt = cb.now()
}

// CircuitBreakerMiddleware fails fast with *CircuitOpenError while cb is
// open. Handler errors count as failures; panics only do when
// RecoveryMiddleware is chained after it.
//
//	cb := eventbus.NewCircuitBreaker(5, 2, 30*time.Second)
//	bus.Subscribe(ctx, typ, 0, nil, h, eventbus.WithMiddleware(eventbus.CircuitBreakerMiddleware(cb)))
func CircuitBreakerMiddleware(cb *CircuitBreaker) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, state any) error {
			if !cb.Allow() {
				ContextLogger(ctx).Warn("circuit breaker open, failing fast",
					"event_id", ev.ID,
					"state", cb.State().String())
				return &CircuitOpenError{Subscriber: ContextSubscriber(ctx)}
			}

			err := next(ctx, ev, state)
			if err == nil {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			return err
		}
	}
}

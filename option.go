package eventbus

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/eventbus/ratelimit"
)

var (
	// DefaultQueueCapacity is the queue size used by NewDefault.
	DefaultQueueCapacity uint16 = 10

	// DefaultSubscriberCapacity is the subscriber table size used by NewDefault.
	DefaultSubscriberCapacity uint16 = 20

	// DefaultIdleWait bounds how long an idle worker sleeps before polling the
	// queue again. Publish and Stop wake it earlier.
	DefaultIdleWait = 100 * time.Millisecond

	// DefaultBusName is the name given to buses created without WithName.
	DefaultBusName = "eventbus"
)

// Logger returns the default logger for a component.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// options holds configuration for bus (unexported)
type options struct {
	name            string
	logger          *slog.Logger
	idleWait        time.Duration
	recoveryEnabled bool
	tracingEnabled  bool
	metricsEnabled  bool
	metrics         Metrics
	onError         func(Event, error)
	limiter         ratelimit.Limiter
	groupLimiter    *ratelimit.Keyed[uint8]
}

// Option configures a bus.
type Option func(*options)

// WithName sets the bus name used in logs, traces and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger for the bus.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIdleWait bounds the idle sleep of the worker. Non-positive values keep
// the default.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleWait = d
		}
	}
}

// WithRecovery enables/disables panic recovery for handlers.
// Recovery should always be enabled, can be disabled for testing.
func WithRecovery(enabled bool) Option {
	return func(o *options) {
		o.recoveryEnabled = enabled
	}
}

// WithTracing enables/disables OpenTelemetry tracing of publish and dispatch.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables metrics. When enabled without
// WithMetricsRecorder, OpenTelemetry instruments are used.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithMetricsRecorder sets the metrics implementation, e.g. one created by
// NewPrometheusMetrics. It implies WithMetrics(true).
func WithMetricsRecorder(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
			o.metricsEnabled = true
		}
	}
}

// WithErrorHandler sets a callback for handler failures. It runs on the
// dispatch goroutine after the failure was logged and counted.
func WithErrorHandler(fn func(Event, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithRateLimiter limits the rate of admitted events across all publishers.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithGroupRateLimit limits the rate of admitted events per event group.
func WithGroupRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.groupLimiter = ratelimit.NewKeyed[uint8](rps, burst, 255)
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		name:            DefaultBusName,
		idleWait:        DefaultIdleWait,
		recoveryEnabled: true,
		tracingEnabled:  true,
		metricsEnabled:  true,
		onError:         func(Event, error) {},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = Logger("eventbus")
	}
	o.logger = o.logger.With("bus", o.name)
	return o
}

// subscribeOptions holds configuration for one subscription (unexported)
type subscribeOptions struct {
	name       string
	middleware []Middleware
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

// WithSubscriberName names the subscription in logs and errors.
func WithSubscriberName(name string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.name = name
	}
}

// WithMiddleware wraps the handler. Middleware run in the order given, the
// first one outermost.
func WithMiddleware(mw ...Middleware) SubscribeOption {
	return func(o *subscribeOptions) {
		o.middleware = append(o.middleware, mw...)
	}
}

func newSubscribeOptions(opts ...SubscribeOption) *subscribeOptions {
	o := &subscribeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

package eventbus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
)

// Reasons passed to Metrics.Rejected.
const (
	ReasonInvalidType = "invalid_type"
	ReasonQueueFull   = "queue_full"
	ReasonRateLimited = "rate_limited"
	ReasonNotRunning  = "not_running"
)

// Metrics records bus activity. Implementations must be safe for concurrent
// use; Dispatched, HandlerFailed and Drained are called from the worker.
type Metrics interface {
	// Published is called for every event accepted into the queue.
	Published(ctx context.Context, typ EventType)
	// Rejected is called for every event refused by Publish.
	Rejected(ctx context.Context, typ EventType, reason string)
	// Dispatched is called once per event after its traversal.
	Dispatched(ctx context.Context, typ EventType, handlers int, elapsed time.Duration)
	// HandlerFailed is called for every handler error or recovered panic.
	HandlerFailed(ctx context.Context, typ EventType, panicked bool)
	// Drained is called at shutdown with the number of discarded events.
	Drained(ctx context.Context, n int)
	// Subscribers is called with +1/-1 on subscribe/unsubscribe.
	Subscribers(ctx context.Context, delta int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Published(context.Context, EventType) {}
func (NopMetrics) Rejected(context.Context, EventType, string) {}
func (NopMetrics) Dispatched(context.Context, EventType, int, time.Duration) {}
func (NopMetrics) HandlerFailed(context.Context, EventType, bool) {}
func (NopMetrics) Drained(context.Context, int) {}
func (NopMetrics) Subscribers(context.Context, int) {}

var (
	_ Metrics = NopMetrics{}
	_ Metrics = (*otelMetrics)(nil)
	_ Metrics = (*PrometheusMetrics)(nil)
)

// otelMetrics records through the global OpenTelemetry meter provider.
type otelMetrics struct {
	published   metric.Int64Counter
	rejected    metric.Int64Counter
	dispatched  metric.Int64Counter
	latency     metric.Float64Histogram
	failed      metric.Int64Counter
	drained     metric.Int64Counter
	subscribers metric.Int64UpDownCounter
}

func newOtelMetrics(name string) *otelMetrics {
	meter := otel.Meter(name)
	m := &otelMetrics{}
	m.published, _ = meter.Int64Counter("eventbus.published",
		metric.WithDescription("Total number of events accepted by Publish"),
		metric.WithUnit("{event}"))
	m.rejected, _ = meter.Int64Counter("eventbus.rejected",
		metric.WithDescription("Total number of events refused by Publish"),
		metric.WithUnit("{event}"))
	m.dispatched, _ = meter.Int64Counter("eventbus.dispatched",
		metric.WithDescription("Total number of events dispatched"),
		metric.WithUnit("{event}"))
	m.latency, _ = meter.Float64Histogram("eventbus.dispatch.duration",
		metric.WithDescription("Time spent dispatching one event to all its handlers"),
		metric.WithUnit("s"))
	m.failed, _ = meter.Int64Counter("eventbus.handler.failed",
		metric.WithDescription("Total number of handler errors and panics"),
		metric.WithUnit("{call}"))
	m.drained, _ = meter.Int64Counter("eventbus.drained",
		metric.WithDescription("Events discarded undelivered at shutdown"),
		metric.WithUnit("{event}"))
	m.subscribers, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Current number of subscribers"),
		metric.WithUnit("{subscriber}"))
	return m
}

func typeAttrs(typ EventType) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.Int("group", int(typ.Group)),
		attribute.Int("kind", int(typ.Kind)))
}

func (m *otelMetrics) Published(ctx context.Context, typ EventType) {
	m.published.Add(ctx, 1, typeAttrs(typ))
}

func (m *otelMetrics) Rejected(ctx context.Context, typ EventType, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("group", int(typ.Group)),
		attribute.Int("kind", int(typ.Kind)),
		attribute.String("reason", reason)))
}

func (m *otelMetrics) Dispatched(ctx context.Context, typ EventType, handlers int, elapsed time.Duration) {
	m.dispatched.Add(ctx, 1, typeAttrs(typ))
	m.latency.Record(ctx, elapsed.Seconds(), typeAttrs(typ))
}

func (m *otelMetrics) HandlerFailed(ctx context.Context, typ EventType, panicked bool) {
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("group", int(typ.Group)),
		attribute.Int("kind", int(typ.Kind)),
		attribute.Bool("panic", panicked)))
}

func (m *otelMetrics) Drained(ctx context.Context, n int) {
	m.drained.Add(ctx, int64(n))
}

func (m *otelMetrics) Subscribers(ctx context.Context, delta int) {
	m.subscribers.Add(ctx, int64(delta))
}

// PrometheusMetrics records into Prometheus collectors. Register them with
// Register before scraping.
type PrometheusMetrics struct {
	published   prometheus.Counter
	rejected    *prometheus.CounterVec
	dispatched  prometheus.Counter
	latency     prometheus.Histogram
	failed      *prometheus.CounterVec
	drained     prometheus.Counter
	subscribers prometheus.Gauge
}

// NewPrometheusMetrics creates collectors named <namespace>_<subsystem>_*.
// An empty namespace defaults to "eventbus".
func NewPrometheusMetrics(namespace, subsystem string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "eventbus"
	}
	return &PrometheusMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "published_total",
			Help:      "Total events accepted by Publish",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Total events refused by Publish",
		}, []string{"reason"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatched_total",
			Help:      "Total events dispatched",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one event to all its handlers",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_failed_total",
			Help:      "Total handler errors and panics",
		}, []string{"panic"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drained_total",
			Help:      "Events discarded undelivered at shutdown",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers",
			Help:      "Current number of subscribers",
		}),
	}
}

// Register registers all collectors with r, or the default registerer if r
// is nil. Every failed registration is reported.
func (m *PrometheusMetrics) Register(r prometheus.Registerer) error {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	var mErr error
	for _, c := range []prometheus.Collector{
		m.published, m.rejected, m.dispatched, m.latency,
		m.failed, m.drained, m.subscribers,
	} {
		if err := r.Register(c); err != nil {
			mErr = multierr.Append(mErr, err)
		}
	}
	return mErr
}

func (m *PrometheusMetrics) Published(context.Context, EventType) {
	m.published.Inc()
}

func (m *PrometheusMetrics) Rejected(_ context.Context, _ EventType, reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) Dispatched(_ context.Context, _ EventType, _ int, elapsed time.Duration) {
	m.dispatched.Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) HandlerFailed(_ context.Context, _ EventType, panicked bool) {
	if panicked {
		m.failed.WithLabelValues("true").Inc()
		return
	}
	m.failed.WithLabelValues("false").Inc()
}

func (m *PrometheusMetrics) Drained(_ context.Context, n int) {
	m.drained.Add(float64(n))
}

func (m *PrometheusMetrics) Subscribers(_ context.Context, delta int) {
	m.subscribers.Add(float64(delta))
}

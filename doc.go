// Package eventbus provides an in-process publish/subscribe event bus with
// bounded memory.
//
// A Bus owns a fixed-capacity FIFO queue of pending events, a fixed-capacity
// table of subscribers ordered by priority, and one dispatch goroutine.
// Publish enqueues an event and returns at once; the worker pops events in
// publish order and runs every matching handler, lowest priority value first,
// one handler at a time.
//
// Architecture:
//   - Events are typed by a (group, kind) pair of bytes; zero is a wildcard
//     on the subscriber side only.
//   - Capacities are fixed at creation. A full queue refuses Publish with
//     ErrQueueFull, a full table refuses Subscribe with ErrRegistryFull.
//   - The queue and the subscriber table have independent locks, so
//     publishers never wait behind a running handler.
//   - Handlers may publish, subscribe, unsubscribe (themselves included) and
//     stop the bus from within.
//
// Basic example:
//
//	bus, err := eventbus.NewDefault(eventbus.WithName("sensors"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Stop(ctx)
//
//	wifi := eventbus.AnyKind(groupWifi)
//	h, err := bus.SubscribeFunc(ctx, wifi, 1, func(ctx context.Context, ev eventbus.Event) error {
//	    fmt.Printf("wifi event %s: %s\n", ev.Type, ev.Input.Bytes())
//	    return nil
//	})
//
//	err = bus.PublishString(ctx, eventbus.Type(groupWifi, kindConnected), "ssid=home")
//	if errors.Is(err, eventbus.ErrQueueFull) {
//	    // drop or retry later
//	}
//
// Payload ownership:
//
// The Input passed to Publish belongs to the bus once Publish succeeds. It is
// released exactly once, after the last handler ran or when the event is
// discarded by Stop. Handlers must not keep it. See package payload for
// owned, pulled and encoded inputs, and for result sinks.
//
// Unsubscribe:
//
// Unsubscribe waits while the subscription's handler is running, so once it
// returns the subscriber state may be freed. A handler that unsubscribes
// itself does not wait; its removal completes when it returns.
//
// Bus Options:
//   - WithName: name used in logs, traces and metrics.
//   - WithLogger: slog logger. Default is slog.Default with component=eventbus.
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//   - WithMetricsRecorder: use another Metrics, e.g. NewPrometheusMetrics.
//   - WithRecovery: enable/disable panic recovery in handlers. Default is true.
//   - WithErrorHandler: callback for handler errors and panics.
//   - WithRateLimiter, WithGroupRateLimit: admission limits for Publish.
//   - WithIdleWait: upper bound of the idle worker's sleep.
//
// Subscribe Options:
//   - WithSubscriberName: name used in logs and errors.
//   - WithMiddleware: wrap the handler (RecoveryMiddleware, LoggingMiddleware,
//     TimeoutMiddleware, RateLimitMiddleware, CircuitBreakerMiddleware).
package eventbus

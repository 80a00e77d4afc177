package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbaliyan/eventbus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchConfig struct {
	queue       uint16
	subs        uint16
	publishers  int
	events      int
	backoff     time.Duration
	metricsAddr string
}

func newBenchCmd() *cobra.Command {
	cfg := benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Publish events from concurrent publishers and report throughput",
		Long: `Starts a bus, registers --subs subscribers spread over groups, and runs
--publishers goroutines each publishing --events events. A publisher that hits
a full queue backs off and retries, so every event is delivered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.publishers <= 0 || cfg.events <= 0 {
				return errors.New("--publishers and --events must be positive")
			}
			if cfg.publishers > 255 {
				return errors.New("--publishers must be at most 255")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runBench(ctx, cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().Uint16Var(&cfg.queue, "queue", 64, "event queue capacity")
	cmd.Flags().Uint16Var(&cfg.subs, "subs", 4, "number of subscribers")
	cmd.Flags().IntVar(&cfg.publishers, "publishers", 4, "number of concurrent publishers")
	cmd.Flags().IntVar(&cfg.events, "events", 10000, "events per publisher")
	cmd.Flags().DurationVar(&cfg.backoff, "backoff", 50*time.Microsecond, "wait before retrying on a full queue")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, cfg benchConfig) error {
	logger := slog.Default().With("component", "bench")

	opts := []eventbus.Option{eventbus.WithName("bench"), eventbus.WithTracing(false)}
	if cfg.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m := eventbus.NewPrometheusMetrics("eventbus", "bench")
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, eventbus.WithMetricsRecorder(m))

		stop, err := serveMetrics(cfg.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	bus, err := eventbus.New(cfg.queue, cfg.subs, opts...)
	if err != nil {
		return err
	}

	total := uint64(cfg.publishers * cfg.events)
	var delivered atomic.Uint64
	all := make(chan struct{})

	// subscriber 0 counts every event, the others split the publishers' groups
	_, err = bus.SubscribeFunc(ctx, eventbus.AllEvents, 0, func(ctx context.Context, ev eventbus.Event) error {
		if delivered.Add(1) == total {
			close(all)
		}
		return nil
	}, eventbus.WithSubscriberName("counter"))
	if err != nil {
		return err
	}
	for i := 1; i < int(cfg.subs); i++ {
		group := uint8(i%cfg.publishers + 1)
		_, err := bus.SubscribeFunc(ctx, eventbus.AnyKind(group), uint8(i), func(context.Context, eventbus.Event) error {
			return nil
		}, eventbus.WithSubscriberName(fmt.Sprintf("group-%d-%d", group, i)))
		if err != nil {
			return err
		}
	}

	var retries atomic.Uint64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 1; p <= cfg.publishers; p++ {
		p := p
		typ := eventbus.Type(uint8(p), 1)
		g.Go(func() error {
			buf := []byte{byte(p)}
			for i := 0; i < cfg.events; i++ {
				for {
					err := bus.PublishBytes(gctx, typ, buf)
					if err == nil {
						break
					}
					if !errors.Is(err, eventbus.ErrQueueFull) {
						return err
					}
					retries.Add(1)
					select {
					case <-time.After(cfg.backoff):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = bus.Stop(context.Background())
		return err
	}

	select {
	case <-all:
	case <-ctx.Done():
		_ = bus.Stop(context.Background())
		return ctx.Err()
	}
	elapsed := time.Since(start)

	if err := bus.Stop(ctx); err != nil {
		return err
	}
	st := bus.Stats()
	fmt.Fprintf(out, "events:       %d\n", total)
	fmt.Fprintf(out, "elapsed:      %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "throughput:   %.0f events/s\n", float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "invocations:  %d\n", st.Invocations)
	fmt.Fprintf(out, "queue full:   %d (retried %d)\n", st.QueueFull, retries.Load())
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

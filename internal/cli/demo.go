package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rbaliyan/eventbus"
	"github.com/rbaliyan/eventbus/payload"
	"github.com/spf13/cobra"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a small publish/subscribe walk-through",
		Long: `Creates a bus with room for 4 events and 4 subscribers, registers a
group wildcard subscriber A (priority 1) and an exact subscriber B
(priority 2), then publishes (1,2), (1,5) and the invalid type (0,1).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runDemo(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bus, err := eventbus.New(4, 4, eventbus.WithName("demo"))
	if err != nil {
		return err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}
	handler := func(name string) eventbus.Handler {
		return func(ctx context.Context, ev eventbus.Event, _ any) error {
			defer wg.Done()
			printf("%s <- %s %q\n", name, ev.Type, ev.Input.Bytes())
			return ev.Result.Write([]byte(name), payload.StatusOK)
		}
	}

	if _, err := bus.Subscribe(ctx, eventbus.AnyKind(1), 1, nil, handler("A"), eventbus.WithSubscriberName("A")); err != nil {
		return err
	}
	if _, err := bus.Subscribe(ctx, eventbus.Type(1, 2), 2, nil, handler("B"), eventbus.WithSubscriberName("B")); err != nil {
		return err
	}

	results := payload.Func(func(buf []byte, status payload.Status) error {
		printf("   result from %s: %s\n", buf, status)
		return nil
	})

	// (1,2) reaches A and B, (1,5) only A
	wg.Add(3)
	for _, p := range []struct {
		typ eventbus.EventType
		msg string
	}{
		{eventbus.Type(1, 2), "group 1, kind 2"},
		{eventbus.Type(1, 5), "group 1, kind 5"},
	} {
		if err := bus.Publish(ctx, p.typ, payload.String(p.msg), results); err != nil {
			return err
		}
	}
	if err := bus.PublishString(ctx, eventbus.Type(0, 1), "wildcard group"); err != nil {
		printf("publish %s rejected: %v\n", eventbus.Type(0, 1), err)
	}

	wg.Wait()
	if err := bus.Stop(ctx); err != nil {
		return err
	}
	st := bus.Stats()
	printf("published=%d rejected=%d dispatched=%d invocations=%d\n",
		st.Published, st.Rejected, st.Dispatched, st.Invocations)
	return nil
}

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func admitted(l Limiter, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = l.Allow(context.Background())
	}
	return out
}

func TestTokenBucketAdmission(t *testing.T) {
	for _, tc := range []struct {
		name  string
		rps   float64
		burst int
		want  []bool
	}{
		{"burst then refused", 0.001, 3, []bool{true, true, true, false, false}},
		{"single token", 0.001, 1, []bool{true, false}},
		{"zero burst refuses everything", 1000, 0, []bool{false, false}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := admitted(NewTokenBucket(tc.rps, tc.burst), len(tc.want))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("admission mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenBucketDelay(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	if d := tb.Delay(); d != 0 {
		t.Errorf("delay with a token available = %v, want 0", d)
	}
	tb.Allow(context.Background())
	if d := tb.Delay(); d <= 0 || d > time.Second {
		t.Errorf("delay after draining = %v, want (0, 1s]", d)
	}
	// Delay must not consume the token it measured
	if d := tb.Delay(); d <= 0 || d > time.Second {
		t.Errorf("second delay = %v, want (0, 1s]", d)
	}
}

func TestTokenBucketWait(t *testing.T) {
	fast := NewTokenBucket(200, 1)
	fast.Allow(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fast.Wait(ctx); err != nil {
		t.Errorf("wait on fast bucket: %v", err)
	}

	slow := NewTokenBucket(0.01, 1)
	slow.Allow(context.Background())
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := slow.Wait(ctx); err == nil {
		t.Error("wait on slow bucket returned before its deadline")
	}
}

func TestTokenBucketReconfigure(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	tb.SetLimit(50)
	tb.SetBurst(7)
	got := []float64{tb.Limit(), float64(tb.Burst())}
	if diff := cmp.Diff([]float64{50, 7}, got); diff != "" {
		t.Errorf("limit/burst mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyedBuckets(t *testing.T) {
	k := NewKeyed[uint8](0.001, 1, 2)

	got := []bool{
		k.Allow(1), // own bucket
		k.Allow(1), // exhausted
		k.Allow(2), // own bucket
		k.Allow(3), // overflow
		k.Allow(4), // overflow, already used by 3
	}
	if diff := cmp.Diff([]bool{true, false, true, true, false}, got); diff != "" {
		t.Errorf("admission mismatch (-want +got):\n%s", diff)
	}
	if k.Len() != 2 {
		t.Errorf("dedicated buckets = %d, want 2", k.Len())
	}
}

func TestKeyedWait(t *testing.T) {
	k := NewKeyed[string](0.01, 1, 0)
	k.Allow("a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := k.Wait(ctx, "a"); err == nil {
		t.Error("wait on drained key returned before its deadline")
	}
	if err := k.Wait(context.Background(), "b"); err != nil {
		t.Errorf("wait on fresh key: %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := k.Wait(cancelled, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("wait with cancelled context error = %v, want context.Canceled", err)
	}
}

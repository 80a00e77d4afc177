package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func priorities(r *Registry[int, string]) []string {
	var out []string
	for _, e := range r.Entries() {
		out = append(out, e.Value)
	}
	return out
}

func TestNew(t *testing.T) {
	r, err := New[int, string](4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r.Cap() != 4 || r.Len() != 0 {
		t.Errorf("expected cap 4 len 0, got cap %d len %d", r.Cap(), r.Len())
	}

	if _, err := New[int, string](0); !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}
}

func TestInsertOrdering(t *testing.T) {
	r, _ := New[int, string](8)

	r.Insert(0, 3, "p3")
	r.Insert(0, 1, "p1-first")
	r.Insert(0, 1, "p1-second")
	r.Insert(0, 5, "p5")
	r.Insert(0, 0, "p0")
	r.Insert(0, 5, "p5-second")

	want := []string{"p0", "p1-first", "p1-second", "p3", "p5", "p5-second"}
	if diff := cmp.Diff(want, priorities(r)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertFull(t *testing.T) {
	r, _ := New[int, string](2)
	if _, err := r.Insert(1, 1, "a"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := r.Insert(1, 1, "b"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := r.Insert(1, 1, "c"); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	r, _ := New[int, string](4)

	a, _ := r.Insert(0, 1, "a")
	b, _ := r.Insert(0, 2, "b")
	c, _ := r.Insert(0, 3, "c")

	t.Run("remove middle", func(t *testing.T) {
		if err := r.Remove(ctx, b); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "c"}, priorities(r)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remove head", func(t *testing.T) {
		if err := r.Remove(ctx, a); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if diff := cmp.Diff([]string{"c"}, priorities(r)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remove twice returns not found", func(t *testing.T) {
		if err := r.Remove(ctx, a); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("zero handle returns not found", func(t *testing.T) {
		if err := r.Remove(ctx, Handle{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("stale handle of reused slot", func(t *testing.T) {
		d, _ := r.Insert(0, 1, "d")
		if d.Index() != a.Index() {
			t.Skipf("slot %d not reused (got %d)", a.Index(), d.Index())
		}
		if err := r.Remove(ctx, a); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for stale handle, got %v", err)
		}
		if diff := cmp.Diff([]string{"d", "c"}, priorities(r)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	if r.Len() != 2 {
		t.Errorf("expected len 2, got %d", r.Len())
	}
	_ = c
}

func TestNextMatching(t *testing.T) {
	r, _ := New[int, string](8)
	r.Insert(1, 2, "one-a")
	r.Insert(2, 1, "two")
	r.Insert(1, 3, "one-b")

	var got []string
	var c Cursor
	for {
		var e Entry[int, string]
		var ok bool
		c, e, ok = r.Next(c, func(k int) bool { return k == 1 })
		if !ok {
			break
		}
		if st, _ := r.Status(e.Handle); st != InWork {
			t.Errorf("expected %s while handed out, got %s", InWork, st)
		}
		got = append(got, e.Value)
	}

	if diff := cmp.Diff([]string{"one-a", "one-b"}, got); diff != "" {
		t.Errorf("traversal mismatch (-want +got):\n%s", diff)
	}
	if !c.Done() {
		t.Error("expected cursor done")
	}
	for _, e := range r.Entries() {
		if st, _ := r.Status(e.Handle); st != Used {
			t.Errorf("%s: expected %s after traversal, got %s", e.Value, Used, st)
		}
	}
	if _, _, ok := r.Next(c, nil); ok {
		t.Error("expected exhausted cursor to stay exhausted")
	}
}

func TestNextSeesChangesDuringTraversal(t *testing.T) {
	ctx := context.Background()
	r, _ := New[int, string](8)
	r.Insert(0, 1, "a")
	b, _ := r.Insert(0, 2, "b")
	r.Insert(0, 4, "d")

	c, e, _ := r.Next(Cursor{}, nil)
	if e.Value != "a" {
		t.Fatalf("expected a, got %s", e.Value)
	}

	// Mutations while "a" is in work.
	if err := r.Remove(ctx, b); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	r.Insert(0, 3, "c")

	var got []string
	for {
		var ok bool
		c, e, ok = r.Next(c, nil)
		if !ok {
			break
		}
		got = append(got, e.Value)
	}
	if diff := cmp.Diff([]string{"c", "d"}, got); diff != "" {
		t.Errorf("traversal mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveWaitsForInWork(t *testing.T) {
	r, _ := New[int, string](2)
	h, _ := r.Insert(0, 1, "a")

	c, _, ok := r.Next(Cursor{}, nil)
	if !ok {
		t.Fatal("expected entry")
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Remove(context.Background(), h)
	}()

	select {
	case err := <-done:
		t.Fatalf("Remove returned while in work: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	r.Release(c)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Remove did not return after release")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRemoveWaitHonoursContext(t *testing.T) {
	r, _ := New[int, string](2)
	h, _ := r.Insert(0, 1, "a")
	c, _, _ := r.Next(Cursor{}, nil)
	defer r.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Remove(ctx, h); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRemoveSelfDeferred(t *testing.T) {
	r, _ := New[int, string](4)
	h, _ := r.Insert(0, 1, "a")
	r.Insert(0, 2, "b")

	c, e, _ := r.Next(Cursor{}, nil)
	ctx := r.WithActive(context.Background(), e.Handle)

	if !r.InDispatch(ctx) {
		t.Error("expected InDispatch true")
	}
	if active, ok := Active(ctx); !ok || active != h {
		t.Errorf("expected active %s, got %s (ok=%v)", h, active, ok)
	}

	if err := r.Remove(ctx, h); err != nil {
		t.Fatalf("self Remove failed: %v", err)
	}
	if err := r.Remove(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}

	// Still linked until released; traversal continues past it.
	c, e, ok := r.Next(c, nil)
	if !ok || e.Value != "b" {
		t.Fatalf("expected b, got %v (ok=%v)", e.Value, ok)
	}
	r.Release(c)

	if diff := cmp.Diff([]string{"b"}, priorities(r)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveMarkerIsPerRegistry(t *testing.T) {
	r1, _ := New[int, string](1)
	r2, _ := New[int, string](1)
	h1, _ := r1.Insert(0, 1, "a")

	ctx := r1.WithActive(context.Background(), h1)
	if r2.InDispatch(ctx) {
		t.Error("marker of r1 must not be seen by r2")
	}
}

func TestCloseAndReset(t *testing.T) {
	ctx := context.Background()
	r, _ := New[int, string](2)
	h, _ := r.Insert(0, 1, "a")

	r.Close()
	if _, err := r.Insert(0, 1, "b"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	r.Reset()
	if r.Len() != 0 || len(r.Entries()) != 0 {
		t.Errorf("expected empty registry after reset")
	}
	if err := r.Remove(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Free, "free"},
		{Used, "used"},
		{InWork, "in_work"},
		{State(9), "unknown(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	t.Run("positive capacity", func(t *testing.T) {
		r, err := New[int](4)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if r.Cap() != 4 {
			t.Errorf("expected cap 4, got %d", r.Cap())
		}
		if r.Len() != 0 {
			t.Errorf("expected empty ring, got len %d", r.Len())
		}
	})

	t.Run("zero capacity returns error", func(t *testing.T) {
		if _, err := New[int](0); !errors.Is(err, ErrCapacity) {
			t.Errorf("expected ErrCapacity, got %v", err)
		}
	})
}

func TestPushPopFIFO(t *testing.T) {
	r, _ := New[int](8)
	for i := 0; i < 8; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}

	var got []int
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pop order mismatch (-want +got):\n%s", diff)
	}
}

func TestPushFull(t *testing.T) {
	r, _ := New[string](3)
	for _, s := range []string{"a", "b", "c"} {
		if err := r.Push(s); err != nil {
			t.Fatalf("Push(%q) failed: %v", s, err)
		}
	}

	if err := r.Push("d"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("full push changed length: %d", r.Len())
	}

	v, ok := r.Pop()
	if !ok || v != "a" {
		t.Errorf("expected head %q unchanged, got %q (ok=%v)", "a", v, ok)
	}
}

func TestWrapAround(t *testing.T) {
	r, _ := New[int](2)
	for i := 0; i < 10; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("expected empty ring after wrap-around")
	}
}

func TestCloseAndDrain(t *testing.T) {
	r, _ := New[int](4)
	r.Push(1)
	r.Push(2)

	var drained []int
	n := r.Drain(func(v int) { drained = append(drained, v) })
	if n != 2 {
		t.Errorf("expected 2 drained, got %d", n)
	}
	if diff := cmp.Diff([]int{1, 2}, drained); diff != "" {
		t.Errorf("drain order mismatch (-want +got):\n%s", diff)
	}
	if !r.Closed() {
		t.Error("expected ring closed after Drain")
	}
	if err := r.Push(3); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 100

	r, _ := New[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := r.Push(p*perProducer + i); err != nil {
					t.Errorf("Push failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	if r.Len() != producers*perProducer {
		t.Fatalf("expected %d queued, got %d", producers*perProducer, r.Len())
	}

	// Each producer's values must come out in its own push order.
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		p, seq := v/perProducer, v%perProducer
		if seq <= last[p] {
			t.Fatalf("producer %d: %d popped after %d", p, seq, last[p])
		}
		last[p] = seq
	}
}

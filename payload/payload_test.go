package payload

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"syreclabs.com/go/faker"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

func TestBytesInput(t *testing.T) {
	s := faker.Lorem().Sentence(8)
	in := String(s)

	if !in.Resident() {
		t.Error("expected resident input")
	}
	if in.Size() != len(s) {
		t.Errorf("expected size %d, got %d", len(s), in.Size())
	}
	got, err := in.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != s {
		t.Errorf("expected %q, got %q", s, got)
	}

	// Every reader starts at the beginning.
	for i := 0; i < 2; i++ {
		b, _ := io.ReadAll(in.Reader())
		if string(b) != s {
			t.Errorf("reader %d: expected %q, got %q", i, s, b)
		}
	}
}

func TestEmptyInput(t *testing.T) {
	in := Empty()
	if !in.IsZero() {
		t.Error("expected zero input")
	}
	if in.Size() != 0 {
		t.Errorf("expected size 0, got %d", in.Size())
	}
	in.Release() // no owner, must not panic
}

func TestOwnedInputRelease(t *testing.T) {
	buf := []byte(faker.Lorem().Word())
	var freed []byte
	calls := 0
	in := Owned(buf, func(b []byte) {
		calls++
		freed = b
	})

	extra := 0
	in = in.WithRelease(func() { extra++ })
	in.Release()

	if calls != 1 || extra != 1 {
		t.Errorf("expected one call each, got owner=%d extra=%d", calls, extra)
	}
	if !bytes.Equal(freed, buf) {
		t.Errorf("owner got %q, want %q", freed, buf)
	}
}

// chunked returns a ReadFunc that hands out data at most n bytes at a time.
func chunked(data []byte, n int) ReadFunc {
	off := 0
	return func(buf []byte) (int, error) {
		if off >= len(data) {
			return 0, nil
		}
		end := off + n
		if end > len(data) {
			end = len(data)
		}
		c := copy(buf, data[off:end])
		off += c
		return c, nil
	}
}

func TestPullInput(t *testing.T) {
	data := []byte(faker.Lorem().Paragraph(3))

	t.Run("known size", func(t *testing.T) {
		in := Pull(len(data), chunked(data, 7))
		if in.Resident() {
			t.Error("expected pull input")
		}
		if in.Bytes() != nil {
			t.Error("pull input must not expose bytes")
		}
		got, err := in.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		if diff := cmp.Diff(data, got); diff != "" {
			t.Errorf("data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown size", func(t *testing.T) {
		in := Pull(-1, chunked(data, 5))
		if in.Size() != -1 {
			t.Errorf("expected size -1, got %d", in.Size())
		}
		got, err := in.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("data mismatch")
		}
	})

	t.Run("size limits reads", func(t *testing.T) {
		in := Pull(4, chunked(data, 64))
		got, err := in.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		if !bytes.Equal(got, data[:4]) {
			t.Errorf("expected %q, got %q", data[:4], got)
		}
	})

	t.Run("short stream", func(t *testing.T) {
		in := Pull(len(data)+10, chunked(data, 64))
		if _, err := in.ReadAll(); !errors.Is(err, ErrShortRead) {
			t.Errorf("expected ErrShortRead, got %v", err)
		}
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		in := Pull(10, func([]byte) (int, error) { return 0, boom })
		if _, err := in.ReadAll(); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}

func TestResultSinks(t *testing.T) {
	t.Run("discard", func(t *testing.T) {
		r := Discard()
		if !r.IsDiscard() {
			t.Error("expected discard")
		}
		if err := r.Write([]byte("x"), StatusOK); err != nil {
			t.Errorf("discard write failed: %v", err)
		}
		var zero Result
		if err := zero.Write(nil, StatusFail); err != nil {
			t.Errorf("zero result write failed: %v", err)
		}
	})

	t.Run("writer", func(t *testing.T) {
		var buf bytes.Buffer
		r := Writer(&buf)
		if err := r.Write([]byte("ok"), StatusOK); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := r.Write([]byte("bad"), StatusFail); err == nil {
			t.Error("expected error for failed status")
		}
		if buf.String() != "ok" {
			t.Errorf("expected %q, got %q", "ok", buf.String())
		}
	})

	t.Run("chan", func(t *testing.T) {
		ch := make(chan Reply, 1)
		r := Chan(ch)
		src := []byte("answer")
		if err := r.Write(src, StatusTimeout); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		src[0] = 'X'
		if err := r.Write(src, StatusOK); !errors.Is(err, ErrResultDropped) {
			t.Errorf("expected ErrResultDropped, got %v", err)
		}
		got := <-ch
		want := Reply{Data: []byte("answer"), Status: StatusTimeout}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})
}

type reading struct {
	Sensor string
	Value  float64
	Seq    int
}

func TestCodecsThroughInput(t *testing.T) {
	want := reading{
		Sensor: faker.Lorem().Word(),
		Value:  float64(faker.RandomInt(0, 100000)) / 8,
		Seq:    faker.RandomInt(1, 1000),
	}

	for _, c := range []Codec{JSON{}, MsgPack{}} {
		t.Run(c.ContentType(), func(t *testing.T) {
			in, err := Encode(c, want)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if in.ContentType() != c.ContentType() {
				t.Errorf("expected content type %q, got %q", c.ContentType(), in.ContentType())
			}
			var got reading
			if err := Decode(in, &got); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProtoCodec(t *testing.T) {
	msg := wrapperspb.String(faker.Lorem().Word())
	in, err := Encode(Proto{}, msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got := &wrapperspb.StringValue{}
	if err := Decode(in, got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.GetValue() != msg.GetValue() {
		t.Errorf("expected %q, got %q", msg.GetValue(), got.GetValue())
	}

	if _, err := Encode(Proto{}, reading{}); !errors.Is(err, ErrNotProto) {
		t.Errorf("expected ErrNotProto, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	if _, ok := Get("application/msgpack"); !ok {
		t.Error("msgpack codec not registered")
	}
	if _, ok := Get("application/protobuf"); !ok {
		t.Error("protobuf codec not registered")
	}
	if c := MustGet("application/unknown"); c.ContentType() != "application/json" {
		t.Errorf("expected JSON fallback, got %s", c.ContentType())
	}
}

func TestStatusString(t *testing.T) {
	if StatusOK.String() != "ok" || StatusFail.String() != "fail" || StatusTimeout.String() != "timeout" {
		t.Error("unexpected status names")
	}
	if Status(7).String() != "unknown(7)" {
		t.Errorf("unexpected name for unknown status: %s", Status(7))
	}
}

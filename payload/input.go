package payload

import (
	"bytes"
	"errors"
	"io"
)

// ErrShortRead is returned by Input.ReadAll when a pull callback ends before
// delivering the announced size.
var ErrShortRead = errors.New("payload shorter than announced size")

// ReadFunc pulls the next chunk of a payload into buf and returns the number
// of bytes written. Returning 0 with a nil error marks the end of the data.
type ReadFunc func(buf []byte) (int, error)

// Input is the data attached to an event. It is a small value, copied into
// the queue as is; only resident inputs carry their bytes along.
//
// Ownership of an Input passes to the bus when Publish succeeds. The bus calls
// Release exactly once, after the last handler returned or when the event is
// discarded during shutdown.
type Input struct {
	data        []byte
	size        int
	read        ReadFunc
	release     func()
	contentType string
}

// Empty returns an input without data.
func Empty() Input {
	return Input{}
}

// Bytes returns a resident input over b. The bus does not copy b; the caller
// must not modify it until the event is processed.
func Bytes(b []byte) Input {
	return Input{data: b, size: len(b)}
}

// String returns a resident input holding a copy of s.
func String(s string) Input {
	return Bytes([]byte(s))
}

// Owned returns a resident input whose buffer is handed to free once the bus
// is done with the event, e.g. to return it to a pool.
func Owned(b []byte, free func([]byte)) Input {
	in := Bytes(b)
	if free != nil {
		in.release = func() { free(b) }
	}
	return in
}

// Pull returns an input whose data is produced by read on demand. size is the
// total length announced to handlers; a negative size means unknown.
func Pull(size int, read ReadFunc) Input {
	return Input{size: size, read: read}
}

// WithContentType returns a copy of in tagged with the given content type.
func (in Input) WithContentType(contentType string) Input {
	in.contentType = contentType
	return in
}

// WithRelease returns a copy of in that calls fn when released, after any
// release callback already attached.
func (in Input) WithRelease(fn func()) Input {
	if fn == nil {
		return in
	}
	prev := in.release
	if prev == nil {
		in.release = fn
		return in
	}
	in.release = func() {
		prev()
		fn()
	}
	return in
}

// ContentType returns the content type tag, empty if untagged.
func (in Input) ContentType() string {
	return in.contentType
}

// Size returns the payload length, or -1 if a pull input did not announce it.
func (in Input) Size() int {
	if in.read != nil && in.size < 0 {
		return -1
	}
	return in.size
}

// Resident reports whether the payload bytes are held by the input.
func (in Input) Resident() bool {
	return in.read == nil
}

// IsZero reports whether the input carries no data at all.
func (in Input) IsZero() bool {
	return in.read == nil && len(in.data) == 0
}

// Bytes returns the resident bytes, or nil for a pull input.
func (in Input) Bytes() []byte {
	return in.data
}

// Reader returns a fresh reader over the payload. For a pull input every
// reader drives the same callback, so the data can only be consumed once.
func (in Input) Reader() io.Reader {
	if in.read == nil {
		return bytes.NewReader(in.data)
	}
	return &pullReader{read: in.read, remaining: in.size}
}

// ReadAll returns the whole payload. For a pull input that announced its size
// a shorter stream yields ErrShortRead.
func (in Input) ReadAll() ([]byte, error) {
	if in.read == nil {
		return in.data, nil
	}

	var buf bytes.Buffer
	if in.size > 0 {
		buf.Grow(in.size)
	}
	if _, err := buf.ReadFrom(in.Reader()); err != nil {
		return nil, err
	}
	if in.size >= 0 && buf.Len() < in.size {
		return buf.Bytes(), ErrShortRead
	}
	return buf.Bytes(), nil
}

// Release gives the payload back to its owner.
func (in Input) Release() {
	if in.release != nil {
		in.release()
	}
}

type pullReader struct {
	read      ReadFunc
	remaining int // < 0 when unknown
}

func (r *pullReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.remaining > 0 && len(p) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.read(p)
	if n < 0 {
		n = 0
	}
	if r.remaining > 0 {
		r.remaining -= n
	}
	if n == 0 && err == nil {
		r.remaining = 0
		return 0, io.EOF
	}
	return n, err
}

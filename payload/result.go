package payload

import (
	"errors"
	"fmt"
	"io"
)

// ErrResultDropped is returned by a channel result whose receiver is not
// ready.
var ErrResultDropped = errors.New("result dropped: receiver not ready")

// Status is the outcome a handler reports along with its result.
type Status uint8

const (
	// StatusOK reports success.
	StatusOK Status = iota
	// StatusFail reports a failed request.
	StatusFail
	// StatusTimeout reports that the handler gave up waiting.
	StatusTimeout
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFail:
		return "fail"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// WriteFunc receives a handler's result. buf is only valid during the call.
type WriteFunc func(buf []byte, status Status) error

// Result is the sink a publisher attaches to an event so handlers can answer.
// The zero value discards everything.
type Result struct {
	write WriteFunc
}

// Discard returns a result that drops whatever is written to it.
func Discard() Result {
	return Result{}
}

// Func returns a result backed by fn.
func Func(fn WriteFunc) Result {
	return Result{write: fn}
}

// Writer returns a result that copies successful results to w. A non-OK
// status is reported back to the handler as an error and nothing is written.
func Writer(w io.Writer) Result {
	return Func(func(buf []byte, status Status) error {
		if status != StatusOK {
			return fmt.Errorf("result status %s", status)
		}
		_, err := w.Write(buf)
		return err
	})
}

// Reply is a result delivered through a channel.
type Reply struct {
	Data   []byte
	Status Status
}

// Chan returns a result that sends a copy of every write to ch without
// blocking. Writes fail with ErrResultDropped when ch has no room.
func Chan(ch chan<- Reply) Result {
	return Func(func(buf []byte, status Status) error {
		r := Reply{Data: append([]byte(nil), buf...), Status: status}
		select {
		case ch <- r:
			return nil
		default:
			return ErrResultDropped
		}
	})
}

// Write hands buf and status to the sink.
func (r Result) Write(buf []byte, status Status) error {
	if r.write == nil {
		return nil
	}
	return r.write(buf, status)
}

// IsDiscard reports whether writes are dropped.
func (r Result) IsDiscard() bool {
	return r.write == nil
}

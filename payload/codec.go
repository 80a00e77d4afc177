// Package payload carries event data in and out of the bus.
//
// An Input is the data attached to a published event. It is either resident
// bytes, optionally owned by the bus and released through a callback once the
// event is processed, or a pull callback that hands the data out on demand so
// large payloads never have to sit in the queue. A Result is where handlers
// write their answer back to the publisher.
//
// Codecs turn Go values into tagged inputs and back:
//
//	in, err := payload.Encode(payload.MsgPack{}, reading)
//	...
//	var r Reading
//	err = payload.Decode(ev.Input, &r)
package payload

import "fmt"

// Codec encodes/decodes event payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the payload to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes to the target type.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}

// Encode serializes v with c into a resident input tagged with the codec's
// content type.
func Encode(c Codec, v any) (Input, error) {
	if c == nil {
		c = Default()
	}
	data, err := c.Encode(v)
	if err != nil {
		return Input{}, fmt.Errorf("encode %s: %w", c.ContentType(), err)
	}
	return Bytes(data).WithContentType(c.ContentType()), nil
}

// Decode reads the whole input and deserializes it into v using the codec
// registered for the input's content type. Untagged inputs use JSON.
func Decode(in Input, v any) error {
	data, err := in.ReadAll()
	if err != nil {
		return err
	}
	c := MustGet(in.ContentType())
	if err := c.Decode(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", c.ContentType(), err)
	}
	return nil
}

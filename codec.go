package eventbus

import (
	"context"
	"fmt"

	"github.com/rbaliyan/eventbus/payload"
)

// PublishValue encodes v with codec (JSON when nil) and publishes it. The
// input carries the codec's content type so Decode picks the same codec.
func PublishValue[T any](ctx context.Context, b *Bus, typ EventType, v T, codec payload.Codec, res payload.Result) error {
	in, err := payload.Encode(codec, v)
	if err != nil {
		return fmt.Errorf("publish %s: %w", typ, err)
	}
	return b.Publish(ctx, typ, in, res)
}

// Decode decodes the event input into a T using the codec registered for
// its content type.
func Decode[T any](ev Event) (T, error) {
	var v T
	if err := payload.Decode(ev.Input, &v); err != nil {
		return v, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	return v, nil
}

// TypedHandler adapts a handler of decoded values. Events whose input does
// not decode into T fail with the decode error.
func TypedHandler[T any](fn func(ctx context.Context, ev Event, v T) error) Handler {
	return func(ctx context.Context, ev Event, _ any) error {
		v, err := Decode[T](ev)
		if err != nil {
			return err
		}
		return fn(ctx, ev, v)
	}
}

package payload

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Content types of the built-in codecs.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeMsgPack  = "application/msgpack"
	ContentTypeProtobuf = "application/protobuf"
)

// ErrNotProto is returned by Proto when the value is not a proto.Message.
var ErrNotProto = errors.New("value must implement proto.Message")

var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
	_ Codec = Proto{}
)

// JSON encodes with encoding/json. Untagged inputs decode as JSON.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) ContentType() string { return ContentTypeJSON }

// MsgPack encodes with MessagePack, a compact binary encoding that suits
// small targets better than JSON.
//
//	in, err := payload.Encode(payload.MsgPack{}, sample)
type MsgPack struct{}

func (MsgPack) Encode(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgPack) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (MsgPack) ContentType() string { return ContentTypeMsgPack }

// Proto encodes proto.Message values. Decode needs a pointer to a message.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, ErrNotProto
	}
	return proto.Marshal(msg)
}

func (Proto) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return ErrNotProto
	}
	return proto.Unmarshal(data, msg)
}

func (Proto) ContentType() string { return ContentTypeProtobuf }

// codec registry, keyed by content type
var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{
		ContentTypeJSON:     JSON{},
		ContentTypeMsgPack:  MsgPack{},
		ContentTypeProtobuf: Proto{},
	}
)

// Register makes c available to Decode for inputs tagged with its content
// type, replacing any codec registered for the same type.
func Register(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.ContentType()] = c
}

// Get returns the codec registered for contentType.
func Get(contentType string) (Codec, bool) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[contentType]
	return c, ok
}

// MustGet is Get falling back to JSON for unknown or empty content types.
func MustGet(contentType string) Codec {
	if c, ok := Get(contentType); ok {
		return c
	}
	return JSON{}
}

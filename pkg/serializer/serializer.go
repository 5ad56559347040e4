// Package serializer provides the pluggable codecs used for request
// arguments, results and broadcast payloads.
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/ugorji/go/codec"
)

// Serializer turns values into payload bytes and back
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Serialize encodes value with s.
func Serialize[T any](s Serializer, value T) ([]byte, error) {
	return s.Marshal(value)
}

// Deserialize decodes data into a new T with s.
func Deserialize[T any](s Serializer, data []byte) (T, error) {
	var v T
	if err := s.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// MessagePack is the default serializer
type MessagePack struct {
	handle *codec.MsgpackHandle
}

// NewMessagePack creates a MessagePack serializer
func NewMessagePack() *MessagePack {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.Canonical = true
	return &MessagePack{handle: h}
}

func (m *MessagePack) Marshal(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, m.handle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return out, nil
}

func (m *MessagePack) Unmarshal(data []byte, v any) error {
	if err := codec.NewDecoderBytes(data, m.handle).Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

func (m *MessagePack) Name() string { return "msgpack" }

// JSON serializer, mostly useful for debugging traffic
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSON) Name() string { return "json" }

// ByName returns the serializer registered under name.
func ByName(name string) (Serializer, error) {
	switch name {
	case "", "msgpack", "messagepack":
		return NewMessagePack(), nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s", name)
	}
}

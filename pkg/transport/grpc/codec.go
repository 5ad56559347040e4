// Package grpc exposes services and hubs on a grpc.Server. Payloads are the
// dispatcher's serialized bytes, so the wire codec is a pass-through.
package grpc

import (
	"fmt"
)

// CodecName is the content-subtype of the pass-through codec
const CodecName = "hubrpc"

// Codec implements encoding.Codec for []byte messages
type Codec struct{}

// Marshal returns v unchanged. v must be []byte or *[]byte.
func (Codec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, nil
		}
		return *b, nil
	default:
		return nil, fmt.Errorf("hubrpc codec: cannot marshal %T", v)
	}
}

// Unmarshal copies data into v, which must be *[]byte.
func (Codec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("hubrpc codec: cannot unmarshal into %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

// Name implements encoding.Codec
func (Codec) Name() string {
	return CodecName
}

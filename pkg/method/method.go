// Package method describes service methods and the numeric ids Hub frames
// are routed by.
package method

import (
	"fmt"
	"reflect"
)

// Kind is the invocation shape of a method
type Kind int

const (
	Unary Kind = iota
	ClientStreaming
	ServerStreaming
	DuplexStreaming
	HubInvoke
	HubNotify
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client_streaming"
	case ServerStreaming:
		return "server_streaming"
	case DuplexStreaming:
		return "duplex_streaming"
	case HubInvoke:
		return "hub_invoke"
	case HubNotify:
		return "hub_notify"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsHub reports whether the method travels as frames on a Hub stream.
func (k Kind) IsHub() bool {
	return k == HubInvoke || k == HubNotify
}

// IsStreaming reports whether the request side of the call is a stream.
func (k Kind) IsStreaming() bool {
	return k == ClientStreaming || k == DuplexStreaming
}

// Descriptor is the immutable registration record of one method
type Descriptor struct {
	ServiceName  string
	MethodName   string
	MethodID     int32
	Kind         Kind
	RequestType  reflect.Type
	ResponseType reflect.Type
}

// FullName is the call path the method is exposed under.
func (d *Descriptor) FullName() string {
	return "/" + d.ServiceName + "/" + d.MethodName
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s.%s(%d, %s)", d.ServiceName, d.MethodName, d.MethodID, d.Kind)
}

// ID derives the wire id of a Hub method: the FNV-1a 32-bit hash of the
// UTF-8 method name reinterpreted as int32. Clients must compute the same value.
func ID(name string) int32 {
	const (
		offset uint32 = 2166136261
		prime  uint32 = 16777619
	)

	hash := offset
	for i := 0; i < len(name); i++ {
		hash ^= uint32(name[i])
		hash *= prime
	}
	return int32(hash)
}

package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/HMasataka/hubrpc/pkg/filter"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/serializer"
)

// Method is the registration-time definition of one method: its descriptor
// inputs plus the typed closures the dispatcher calls. It is built with the
// generic constructors below so the hot path never uses reflection.
type Method struct {
	spec    method.Spec
	filters []filter.Filter

	// decode is nil when the request arrives on a stream.
	decode func(s serializer.Serializer, raw []byte) (any, error)
	// encode is nil when the method produces no single response.
	encode  func(s serializer.Serializer, v any) ([]byte, error)
	handler invocation.Endpoint
}

// MethodOption configures a Method
type MethodOption func(*Method)

// WithID overrides the derived method id
func WithID(id int32) MethodOption {
	return func(m *Method) {
		m.spec.ID = id
		m.spec.HasID = true
	}
}

// WithFilters attaches filters that only wrap this method
func WithFilters(filters ...filter.Filter) MethodOption {
	return func(m *Method) {
		m.filters = append(m.filters, filters...)
	}
}

// Name returns the method name
func (m *Method) Name() string { return m.spec.Name }

// Kind returns the method kind
func (m *Method) Kind() method.Kind { return m.spec.Kind }

// Unary defines a single request/response method of a plain service.
func Unary[Req, Res any](name string, h func(ctx context.Context, req Req) (Res, error), opts ...MethodOption) *Method {
	return newMethod(name, method.Unary, 1, typeOf[Req](), typeOf[Res](), opts,
		decoder[Req](), encoder[Res](),
		func(ic *invocation.Context) error {
			res, err := h(callContext(ic), ic.Request.(Req))
			if err != nil {
				return err
			}
			ic.Response = res
			return nil
		})
}

// ClientStreaming defines a method that consumes a stream of requests and
// produces one response.
func ClientStreaming[Req, Res any](name string, h func(ctx context.Context, stream *ClientStream[Req]) (Res, error), opts ...MethodOption) *Method {
	return newMethod(name, method.ClientStreaming, 0, typeOf[Req](), typeOf[Res](), opts,
		nil, encoder[Res](),
		func(ic *invocation.Context) error {
			res, err := h(callContext(ic), newClientStream[Req](ic))
			if err != nil {
				return err
			}
			ic.Response = res
			return nil
		})
}

// ServerStreaming defines a method that answers one request with a stream.
func ServerStreaming[Req, Res any](name string, h func(ctx context.Context, req Req, stream *ServerStream[Res]) error, opts ...MethodOption) *Method {
	return newMethod(name, method.ServerStreaming, 1, typeOf[Req](), typeOf[Res](), opts,
		decoder[Req](), nil,
		func(ic *invocation.Context) error {
			return h(callContext(ic), ic.Request.(Req), newServerStream[Res](ic))
		})
}

// DuplexStreaming defines a method where both sides stream concurrently.
func DuplexStreaming[Req, Res any](name string, h func(ctx context.Context, stream *DuplexStream[Req, Res]) error, opts ...MethodOption) *Method {
	return newMethod(name, method.DuplexStreaming, 0, typeOf[Req](), typeOf[Res](), opts,
		nil, nil,
		func(ic *invocation.Context) error {
			return h(callContext(ic), &DuplexStream[Req, Res]{
				ClientStream: newClientStream[Req](ic),
				ServerStream: newServerStream[Res](ic),
			})
		})
}

// HubInvoke defines a Hub method whose caller awaits a reply frame.
func HubInvoke[Req, Res any](name string, h func(ctx context.Context, req Req) (Res, error), opts ...MethodOption) *Method {
	return newMethod(name, method.HubInvoke, 1, typeOf[Req](), typeOf[Res](), opts,
		decoder[Req](), encoder[Res](),
		func(ic *invocation.Context) error {
			res, err := h(callContext(ic), ic.Request.(Req))
			if err != nil {
				return err
			}
			ic.Response = res
			return nil
		})
}

// HubNotify defines a fire-and-forget Hub method. It is also the shape of
// client receiver callbacks targeted by broadcasts.
func HubNotify[Req any](name string, h func(ctx context.Context, req Req) error, opts ...MethodOption) *Method {
	return newMethod(name, method.HubNotify, 1, typeOf[Req](), nil, opts,
		decoder[Req](), nil,
		func(ic *invocation.Context) error {
			return h(callContext(ic), ic.Request.(Req))
		})
}

func newMethod(
	name string,
	kind method.Kind,
	params int,
	reqType, resType reflect.Type,
	opts []MethodOption,
	decode func(serializer.Serializer, []byte) (any, error),
	encode func(serializer.Serializer, any) ([]byte, error),
	handler invocation.Endpoint,
) *Method {
	m := &Method{
		spec: method.Spec{
			Name:         name,
			Kind:         kind,
			Parameters:   params,
			RequestType:  reqType,
			ResponseType: resType,
		},
		decode:  decode,
		encode:  encode,
		handler: handler,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func decoder[T any]() func(serializer.Serializer, []byte) (any, error) {
	return func(s serializer.Serializer, raw []byte) (any, error) {
		return serializer.Deserialize[T](s, raw)
	}
}

func encoder[T any]() func(serializer.Serializer, any) ([]byte, error) {
	return func(s serializer.Serializer, v any) ([]byte, error) {
		res, ok := v.(T)
		if !ok && v != nil {
			return nil, fmt.Errorf("response has type %T, want %s", v, typeOf[T]())
		}
		return serializer.Serialize(s, res)
	}
}

func callContext(ic *invocation.Context) context.Context {
	return invocation.NewContext(ic.Context(), ic)
}

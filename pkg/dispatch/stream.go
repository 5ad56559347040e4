package dispatch

import (
	"io"
	"iter"

	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"google.golang.org/grpc/codes"
)

// ClientStream is the typed request side of a streaming call. Each item is
// consumed once, in transport order.
type ClientStream[T any] struct {
	raw        invocation.Stream
	serializer serializer.Serializer
}

func newClientStream[T any](ic *invocation.Context) *ClientStream[T] {
	return &ClientStream[T]{raw: ic.Stream, serializer: ic.Serializer}
}

// Recv returns the next request. It returns io.EOF after the last one.
func (c *ClientStream[T]) Recv() (T, error) {
	var zero T

	payload, err := c.raw.Recv()
	if err != nil {
		return zero, err
	}

	v, err := serializer.Deserialize[T](c.serializer, payload)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeProtocol, codes.InvalidArgument, "failed to deserialize stream item")
	}
	return v, nil
}

// All iterates the remaining requests. Iteration stops at the end of the
// stream or after yielding the first error.
func (c *ClientStream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := c.Recv()
			if err == io.EOF {
				return
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// ServerStream is the typed response side of a streaming call.
type ServerStream[T any] struct {
	raw        invocation.Stream
	serializer serializer.Serializer
}

func newServerStream[T any](ic *invocation.Context) *ServerStream[T] {
	return &ServerStream[T]{raw: ic.Stream, serializer: ic.Serializer}
}

// Send emits one response
func (s *ServerStream[T]) Send(v T) error {
	payload, err := serializer.Serialize(s.serializer, v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize stream item")
	}
	return s.raw.Send(payload)
}

// DuplexStream reads requests and writes responses concurrently.
type DuplexStream[Req, Res any] struct {
	*ClientStream[Req]
	*ServerStream[Res]
}

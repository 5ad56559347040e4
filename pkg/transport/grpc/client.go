package grpc

import (
	"context"

	"github.com/HMasataka/hubrpc/pkg/serializer"
	"google.golang.org/grpc"
)

// Invoke calls a unary method at path (/{Service}/{Method}) with an already
// serialized request.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, path string, req []byte, opts ...grpc.CallOption) ([]byte, error) {
	var out []byte
	opts = append(opts, grpc.ForceCodec(Codec{}))
	if err := cc.Invoke(ctx, path, req, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Call is Invoke with typed request and response.
func Call[Req, Res any](ctx context.Context, cc grpc.ClientConnInterface, s serializer.Serializer, path string, req Req, opts ...grpc.CallOption) (Res, error) {
	var zero Res

	payload, err := serializer.Serialize(s, req)
	if err != nil {
		return zero, err
	}

	out, err := Invoke(ctx, cc, path, payload, opts...)
	if err != nil {
		return zero, err
	}
	return serializer.Deserialize[Res](s, out)
}

// OpenStream starts a streaming call at path. Messages are []byte.
func OpenStream(ctx context.Context, cc grpc.ClientConnInterface, path string, clientStreams, serverStreams bool, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{
		ClientStreams: clientStreams,
		ServerStreams: serverStreams,
	}
	opts = append(opts, grpc.ForceCodec(Codec{}))
	return cc.NewStream(ctx, desc, path, opts...)
}

// DialHub opens the /{Hub}/Connect stream and returns it as a channel for
// hub.Connect. Closing the channel ends the stream. Outgoing metadata on ctx
// is sent to the server.
func DialHub(ctx context.Context, cc grpc.ClientConnInterface, hubName string, opts ...grpc.CallOption) (*Channel, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := OpenStream(streamCtx, cc, "/"+hubName+"/"+ConnectMethod, true, true, opts...)
	if err != nil {
		cancel()
		return nil, err
	}

	return newChannel(streamCtx, stream, cancel), nil
}

package grpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/method"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ConnectMethod is the bidirectional stream a hub is reachable at
const ConnectMethod = "Connect"

// NewServer creates a grpc.Server that uses the pass-through codec
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)...)
}

// Registrar registers dispatcher services and hubs on a grpc.Server
type Registrar struct {
	server     grpc.ServiceRegistrar
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
}

// NewRegistrar creates a registrar for services of d
func NewRegistrar(s grpc.ServiceRegistrar, d *dispatch.Dispatcher, logger *logging.Logger) *Registrar {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registrar{server: s, dispatcher: d, logger: logger}
}

// RegisterService exposes every method of a plain service at
// /{Service}/{Method}.
func (r *Registrar) RegisterService(name string) error {
	table, ok := r.dispatcher.Table(name)
	if !ok {
		return fmt.Errorf("service %s is not registered", name)
	}
	if table.IsHub() {
		return fmt.Errorf("%s is a hub, use RegisterHub", name)
	}

	sd := &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Metadata:    "hubrpc",
	}

	for _, desc := range table.Descriptors() {
		switch desc.Kind {
		case method.Unary:
			sd.Methods = append(sd.Methods, grpc.MethodDesc{
				MethodName: desc.MethodName,
				Handler:    r.unaryHandler(desc),
			})
		default:
			sd.Streams = append(sd.Streams, grpc.StreamDesc{
				StreamName:    desc.MethodName,
				Handler:       r.streamHandler(desc),
				ServerStreams: desc.Kind == method.ServerStreaming || desc.Kind == method.DuplexStreaming,
				ClientStreams: desc.Kind == method.ClientStreaming || desc.Kind == method.DuplexStreaming,
			})
		}
	}

	r.server.RegisterService(sd, struct{}{})
	r.logger.Info("grpc service registered",
		"service", name,
		"methods", len(sd.Methods)+len(sd.Streams),
	)
	return nil
}

// RegisterHub exposes h as a bidirectional stream at /{Hub}/Connect that
// carries hub frames.
func (r *Registrar) RegisterHub(h *hub.Hub) {
	logger := r.logger.WithFields(map[string]any{"hub": h.Name()})

	sd := &grpc.ServiceDesc{
		ServiceName: h.Name(),
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    ConnectMethod,
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				ctx := incomingContext(stream.Context())
				ch := newChannel(ctx, stream, nil)

				session, err := h.Connect(ctx, ch)
				if err != nil {
					return err
				}
				<-session.Done()
				logger.Debug("grpc hub stream closed", "connection_id", session.ID())
				return nil
			},
		}},
		Metadata: "hubrpc",
	}

	r.server.RegisterService(sd, struct{}{})
	logger.Info("grpc hub registered", "path", "/"+h.Name()+"/"+ConnectMethod)
}

func (r *Registrar) unaryHandler(desc *method.Descriptor) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		var raw []byte
		if err := dec(&raw); err != nil {
			return nil, err
		}

		handler := func(ctx context.Context, req any) (any, error) {
			out, err := r.dispatcher.Dispatch(incomingContext(ctx), desc, req.([]byte))
			if err != nil {
				return nil, err
			}
			return out, nil
		}

		if interceptor == nil {
			return handler(ctx, raw)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: desc.FullName()}
		return interceptor(ctx, raw, info, handler)
	}
}

func (r *Registrar) streamHandler(desc *method.Descriptor) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		ctx := incomingContext(stream.Context())

		var raw []byte
		if desc.Kind == method.ServerStreaming {
			if err := stream.RecvMsg(&raw); err != nil {
				return err
			}
		}

		out, err := r.dispatcher.DispatchStream(ctx, desc, raw, &serverStream{stream: stream})
		if err != nil {
			return err
		}
		if desc.Kind == method.ClientStreaming {
			return stream.SendMsg(out)
		}
		return nil
	}
}

// serverStream adapts grpc.ServerStream to invocation.Stream
type serverStream struct {
	stream grpc.ServerStream
}

func (s *serverStream) Recv() ([]byte, error) {
	var data []byte
	if err := s.stream.RecvMsg(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *serverStream) Send(data []byte) error {
	return s.stream.SendMsg(data)
}

// incomingContext exposes grpc request metadata as call metadata
func incomingContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	flat := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > 0 {
			flat[strings.ToLower(k)] = v[0]
		}
	}
	return invocation.WithMetadata(ctx, flat)
}

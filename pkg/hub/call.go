package hub

import (
	"context"

	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"google.golang.org/grpc/codes"
)

// Caller is one end of a Hub connection that can issue calls: a Client
// calling the hub, or a Session calling the client's receiver.
type Caller interface {
	Call(ctx context.Context, methodID int32, payload []byte) ([]byte, error)
	Notify(ctx context.Context, methodID int32, payload []byte) error
	Serializer() serializer.Serializer
}

// Invoke calls a HubInvoke method with a typed request and result.
func Invoke[Req, Res any](ctx context.Context, c Caller, methodID int32, req Req) (Res, error) {
	var zero Res

	payload, err := serializer.Serialize(c.Serializer(), req)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize request")
	}

	out, err := c.Call(ctx, methodID, payload)
	if err != nil {
		return zero, err
	}

	res, err := serializer.Deserialize[Res](c.Serializer(), out)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeProtocol, codes.Internal, "failed to deserialize response")
	}
	return res, nil
}

// Send calls a HubNotify method with a typed argument.
func Send[Req any](ctx context.Context, c Caller, methodID int32, req Req) error {
	payload, err := serializer.Serialize(c.Serializer(), req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize request")
	}
	return c.Notify(ctx, methodID, payload)
}

// Broadcast serializes v once and broadcasts it to a snapshot of the named
// group of h.
func Broadcast[T any](ctx context.Context, h *Hub, group string, methodID int32, v T, opts ...BroadcastOption) (BroadcastResult, error) {
	payload, err := serializer.Serialize(h.dispatcher.Serializer(), v)
	if err != nil {
		return BroadcastResult{}, errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize broadcast")
	}
	return h.groups.BroadcastGroup(ctx, group, methodID, payload, opts...)
}

// BroadcastAll broadcasts v to every connected session of h.
func BroadcastAll[T any](ctx context.Context, h *Hub, methodID int32, v T, opts ...BroadcastOption) (BroadcastResult, error) {
	payload, err := serializer.Serialize(h.dispatcher.Serializer(), v)
	if err != nil {
		return BroadcastResult{}, errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize broadcast")
	}

	sessions := h.Sessions()
	members := make([]Member, len(sessions))
	for i, s := range sessions {
		members[i] = s
	}
	return h.groups.Broadcast(ctx, members, methodID, payload, opts...)
}

// Push serializes v and writes it to a single session.
func Push[T any](s *Session, methodID int32, v T) error {
	payload, err := serializer.Serialize(s.Serializer(), v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize push")
	}
	return s.Push(methodID, payload)
}

package hub

import (
	"context"
	"time"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/HMasataka/hubrpc/pkg/transport/protocol"
)

// Session is the server side of one Hub connection.
//
// States move Connecting -> Connected -> Draining -> Closed. A session is
// removed from every group before it reaches Closed.
type Session struct {
	*conn

	hub         *Hub
	connectedAt time.Time
}

// ID returns the connection id
func (s *Session) ID() string {
	return s.id
}

// Hub returns the hub the session belongs to
func (s *Session) Hub() *Hub {
	return s.hub
}

// Context is cancelled when the connection starts draining
func (s *Session) Context() context.Context {
	return s.callCtx
}

// ConnectedAt returns when the handshake completed
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Serializer returns the payload serializer
func (s *Session) Serializer() serializer.Serializer {
	return s.dispatcher.Serializer()
}

// Call invokes a HubInvoke method of the client's receiver and waits for
// its result.
func (s *Session) Call(ctx context.Context, methodID int32, payload []byte) ([]byte, error) {
	if s.State() != domain.StateConnected {
		return nil, domain.ErrSessionNotConnected
	}
	return s.call(ctx, methodID, payload)
}

// Notify pushes a frame to one HubNotify method of the client's receiver.
func (s *Session) Notify(ctx context.Context, methodID int32, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Push(methodID, payload)
}

// Push writes a broadcast frame to this session only
func (s *Session) Push(methodID int32, payload []byte) error {
	if s.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}
	return s.write(&protocol.Frame{Type: protocol.FrameBroadcast, MethodID: methodID, Payload: payload})
}

// Groups returns the names of the groups the session is a member of
func (s *Session) Groups() []string {
	return s.hub.groups.GroupsOf(s.id)
}

// Disconnect starts teardown. Done is closed once the session is Closed.
// It is safe to call from a handler running on the session.
func (s *Session) Disconnect() {
	s.disconnect(nil)
}

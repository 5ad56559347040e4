package hub

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/HMasataka/hubrpc/pkg/transport/protocol"
	"github.com/rs/xid"
)

// Client is the calling side of a Hub connection. Calls are correlated by
// message id; broadcasts and server calls are dispatched to the receiver.
type Client struct {
	*conn

	hub      string
	receiver *dispatch.Service

	handshakeOnce sync.Once
	handshake     chan struct{}
}

// Connect opens a client over ch and waits for the server's handshake frame.
// receiver holds the HubNotify and HubInvoke methods the server may target;
// it may be nil for a client that only calls.
func Connect(ctx context.Context, ch domain.Channel, hubName string, receiver *dispatch.Service, opts ...Option) (*Client, error) {
	options := buildOptions(opts)

	if receiver == nil {
		receiver = dispatch.NewHub(hubName + "Receiver")
	}

	d := dispatch.New(
		dispatch.WithSerializer(options.Serializer),
		dispatch.WithLogger(options.Logger),
	)
	if _, err := d.Register(receiver); err != nil {
		return nil, err
	}

	id := xid.New().String()
	logger := options.Logger.WithFields(map[string]any{
		"hub":           hubName,
		"connection_id": id,
	})

	c := &Client{
		hub:       hubName,
		receiver:  receiver,
		handshake: make(chan struct{}),
	}
	c.conn = newConn(id, ch, d, receiver.Name(), &options, logger, &counters{})
	c.callCtx = WithClient(c.callCtx, c)
	c.onHandshake = func() {
		c.handshakeOnce.Do(func() {
			c.setState(domain.StateConnected)
			close(c.handshake)
		})
	}
	c.onClose = func(cause error) {
		if cause != nil {
			logger.Info("client disconnected", "error", cause)
			return
		}
		logger.Debug("client disconnected")
	}

	c.startReader()
	c.startConsumer()

	timer := time.NewTimer(options.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.handshake:
		return c, nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrConnectionClosed
	case <-timer.C:
		c.disconnect(domain.ErrHandshakeTimeout)
		<-c.done
		return nil, domain.ErrHandshakeTimeout
	case <-ctx.Done():
		c.disconnect(ctx.Err())
		<-c.done
		return nil, ctx.Err()
	}
}

// ID returns the local connection id
func (c *Client) ID() string {
	return c.id
}

// HubName returns the name of the hub the client is connected to
func (c *Client) HubName() string {
	return c.hub
}

// Context is cancelled when the client starts draining
func (c *Client) Context() context.Context {
	return c.callCtx
}

// Serializer returns the payload serializer
func (c *Client) Serializer() serializer.Serializer {
	return c.dispatcher.Serializer()
}

// Call invokes a HubInvoke method and waits for its reply. It fails with a
// connection error if the connection drops first.
func (c *Client) Call(ctx context.Context, methodID int32, payload []byte) ([]byte, error) {
	if c.State() != domain.StateConnected {
		return nil, domain.ErrSessionNotConnected
	}
	return c.call(ctx, methodID, payload)
}

// Notify invokes a HubNotify method without waiting for anything
func (c *Client) Notify(ctx context.Context, methodID int32, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != domain.StateConnected {
		return domain.ErrSessionNotConnected
	}
	return c.write(&protocol.Frame{Type: protocol.FrameNotify, MethodID: methodID, Payload: payload})
}

// Disconnect closes the connection and waits for teardown
func (c *Client) Disconnect() error {
	c.disconnect(nil)
	<-c.done
	return nil
}

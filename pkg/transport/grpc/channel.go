package grpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// messageStream is the part of grpc.ServerStream and grpc.ClientStream a
// channel needs.
type messageStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

type received struct {
	data []byte
	err  error
}

// Channel implements domain.Channel over a bidirectional grpc stream, one
// frame per message. A server stream cannot be closed from the handler, so
// a pump goroutine receives messages and Close unblocks Read through the
// channel context.
type Channel struct {
	stream messageStream
	ctx    context.Context
	cancel context.CancelFunc

	incoming chan received
	onClose  func()

	closeOnce sync.Once
}

func newChannel(ctx context.Context, stream messageStream, onClose func()) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		stream:   stream,
		ctx:      ctx,
		cancel:   cancel,
		incoming: make(chan received),
		onClose:  onClose,
	}
	go c.pump()
	return c
}

func (c *Channel) pump() {
	for {
		var data []byte
		err := c.stream.RecvMsg(&data)
		select {
		case c.incoming <- received{data: data, err: err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Read implements domain.Channel
func (c *Channel) Read() ([]byte, error) {
	select {
	case r := <-c.incoming:
		if r.err != nil {
			c.cancel()
			if errors.Is(r.err, io.EOF) || status.Code(r.err) == codes.Canceled {
				return nil, io.EOF
			}
			return nil, r.err
		}
		return r.data, nil
	case <-c.ctx.Done():
		return nil, io.EOF
	}
}

// Write implements domain.Channel. Writes are serialized by the caller.
func (c *Channel) Write(frame []byte) error {
	if c.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}
	if err := c.stream.SendMsg(frame); err != nil {
		c.cancel()
		return err
	}
	return nil
}

// Close implements domain.Channel
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// Context implements domain.Channel
func (c *Channel) Context() context.Context {
	return c.ctx
}

// Package memory provides an in-process Channel pair, used to run hubs and
// clients in the same process and in tests.
package memory

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/invocation"
)

const bufferSize = 64

type link struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (l *link) close() {
	l.once.Do(l.cancel)
}

// Channel is one end of an in-process connection
type Channel struct {
	link *link
	in   <-chan []byte
	out  chan<- []byte
	ctx  context.Context
}

// Pipe returns two connected channels. Closing either end disconnects both.
func Pipe() (*Channel, *Channel) {
	return PipeWithContext(context.Background())
}

// PipeWithContext is Pipe with the connection bound to ctx
func PipeWithContext(ctx context.Context) (*Channel, *Channel) {
	ctx, cancel := context.WithCancel(ctx)
	l := &link{ctx: ctx, cancel: cancel}

	a2b := make(chan []byte, bufferSize)
	b2a := make(chan []byte, bufferSize)

	return &Channel{link: l, in: b2a, out: a2b, ctx: ctx},
		&Channel{link: l, in: a2b, out: b2a, ctx: ctx}
}

// WithMetadata attaches call metadata visible to handlers on this end
func (c *Channel) WithMetadata(md map[string]string) *Channel {
	c.ctx = invocation.WithMetadata(c.ctx, md)
	return c
}

// Read implements domain.Channel
func (c *Channel) Read() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.link.ctx.Done():
		return nil, io.EOF
	}
}

// Write implements domain.Channel
func (c *Channel) Write(frame []byte) error {
	if c.link.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}

	select {
	case c.out <- slices.Clone(frame):
		return nil
	case <-c.link.ctx.Done():
		return domain.ErrConnectionClosed
	}
}

// Close implements domain.Channel
func (c *Channel) Close() error {
	c.link.close()
	return nil
}

// Context implements domain.Channel
func (c *Channel) Context() context.Context {
	return c.ctx
}

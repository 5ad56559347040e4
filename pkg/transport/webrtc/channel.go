// Package webrtc carries Hub connections over WebRTC data channels, one
// frame per binary message.
package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/pion/webrtc/v4"
)

// ErrDataChannelNotOpen is returned when trying to send on a data channel
// that is not open
var ErrDataChannelNotOpen = errors.New("data channel is not open")

// DataChannel is the subset of *webrtc.DataChannel a Channel uses
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	Close() error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	OnError(f func(err error))
}

var _ DataChannel = (*webrtc.DataChannel)(nil)

// DefaultBufferSize is the number of received messages a Channel holds
// before the data channel's message callback blocks
const DefaultBufferSize = 256

// Channel implements domain.Channel over a data channel
type Channel struct {
	dc     DataChannel
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	incoming chan []byte
	opened   chan struct{}
	openOnce sync.Once

	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64

	closeOnce sync.Once
}

// NewChannel wraps dc. It takes over the data channel's event handlers.
func NewChannel(ctx context.Context, dc DataChannel, logger *logging.Logger) *Channel {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &Channel{
		dc:       dc,
		logger:   logger.WithFields(map[string]any{"label": dc.Label()}),
		ctx:      ctx,
		cancel:   cancel,
		incoming: make(chan []byte, DefaultBufferSize),
		opened:   make(chan struct{}),
	}
	c.setupEventHandlers()

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.markOpen()
	}

	return c
}

func (c *Channel) setupEventHandlers() {
	c.dc.OnOpen(func() {
		c.logger.Debug("data channel opened")
		c.markOpen()
	})

	c.dc.OnClose(func() {
		c.logger.Debug("data channel closed")
		c.cancel()
	})

	c.dc.OnError(func(err error) {
		c.logger.Error("data channel error", "error", err)
		c.cancel()
	})

	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.logger.Debug("ignoring text data channel message", "size", len(msg.Data))
			return
		}

		c.messagesRecv.Add(1)
		c.bytesRecv.Add(int64(len(msg.Data)))

		select {
		case c.incoming <- msg.Data:
		case <-c.ctx.Done():
		}
	})
}

func (c *Channel) markOpen() {
	c.openOnce.Do(func() { close(c.opened) })
}

// WaitOpen blocks until the data channel is open
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read implements domain.Channel
func (c *Channel) Read() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.ctx.Done():
		return nil, io.EOF
	}
}

// Write implements domain.Channel
func (c *Channel) Write(frame []byte) error {
	if c.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataChannelNotOpen
	}

	if err := c.dc.Send(frame); err != nil {
		return err
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(len(frame)))
	return nil
}

// Close implements domain.Channel
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.dc.Close()
	})
	return err
}

// Context implements domain.Channel
func (c *Channel) Context() context.Context {
	return c.ctx
}

// Stats returns data channel statistics
func (c *Channel) Stats() Stats {
	return Stats{
		Label:        c.dc.Label(),
		State:        c.dc.ReadyState().String(),
		MessagesSent: c.messagesSent.Load(),
		MessagesRecv: c.messagesRecv.Load(),
		BytesSent:    c.bytesSent.Load(),
		BytesRecv:    c.bytesRecv.Load(),
	}
}

// Stats represents data channel statistics
type Stats struct {
	Label        string `json:"label"`
	State        string `json:"state"`
	MessagesSent int64  `json:"messages_sent"`
	MessagesRecv int64  `json:"messages_recv"`
	BytesSent    int64  `json:"bytes_sent"`
	BytesRecv    int64  `json:"bytes_recv"`
}

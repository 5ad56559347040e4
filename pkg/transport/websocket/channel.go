// Package websocket carries Hub connections over websocket binary messages,
// one frame per message.
package websocket

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/gorilla/websocket"
)

// Channel implements domain.Channel over a websocket connection
type Channel struct {
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
	options ChannelOptions

	closeOnce sync.Once
}

// NewChannel wraps conn. The channel context derives from ctx and is
// cancelled once the connection fails or closes.
func NewChannel(ctx context.Context, conn *websocket.Conn, logger *logging.Logger, options ChannelOptions) *Channel {
	ctx, cancel := context.WithCancel(ctx)

	c := &Channel{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		options: options,
	}

	conn.SetReadLimit(options.MaxMessageSize)
	_ = c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})

	if options.PingInterval > 0 {
		go c.pingLoop()
	}

	return c
}

// Read implements domain.Channel
func (c *Channel) Read() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.cancel()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return nil, err
		}

		_ = c.extendReadDeadline()

		if messageType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary websocket message", "type", messageType)
			continue
		}
		return message, nil
	}
}

// Write implements domain.Channel
func (c *Channel) Write(frame []byte) error {
	if c.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.cancel()
		return err
	}
	return nil
}

// Close implements domain.Channel
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(c.options.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)

		err = c.conn.Close()
	})
	return err
}

func (c *Channel) extendReadDeadline() error {
	if c.options.ReadTimeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
}

// Context implements domain.Channel
func (c *Channel) Context() context.Context {
	return c.ctx
}

// pingLoop keeps the peer's read deadline fresh. WriteControl may run
// concurrently with WriteMessage.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.options.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("websocket ping error", "error", err)
				c.cancel()
				return
			}
		}
	}
}

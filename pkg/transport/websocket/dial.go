package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/gorilla/websocket"
)

// DialOptions represents websocket dial options
type DialOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           *logging.Logger
	Channel          ChannelOptions
}

// DialOption is a function that configures DialOptions
type DialOption func(*DialOptions)

// WithHeader sets request headers; the server exposes them as call metadata
func WithHeader(header http.Header) DialOption {
	return func(o *DialOptions) {
		o.Header = header
	}
}

// WithDialLogger sets the logger of the dialed channel
func WithDialLogger(logger *logging.Logger) DialOption {
	return func(o *DialOptions) {
		o.Logger = logger
	}
}

// Dial opens a websocket connection to url and returns it as a channel
func Dial(ctx context.Context, url string, opts ...DialOption) (*Channel, error) {
	options := DialOptions{
		HandshakeTimeout: 10 * time.Second,
		Logger:           logging.Discard(),
		Channel:          DefaultChannelOptions(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: options.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, _, err := dialer.DialContext(ctx, url, options.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	return NewChannel(context.Background(), conn, options.Logger, options.Channel), nil
}

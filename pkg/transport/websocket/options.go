package websocket

import (
	"net/http"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
)

// ChannelOptions represents websocket channel options
type ChannelOptions struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultChannelOptions returns default channel options
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 512 * 1024, // 512KB
	}
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Logger          *logging.Logger
	Channel         ChannelOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithChannelOptions sets the options of accepted channels
func WithChannelOptions(options ChannelOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Channel = options
	}
}

package hub

import (
	"context"
	"time"

	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/serializer"
)

// Options represents hub and client options
type Options struct {
	Logger   *logging.Logger
	EventBus eventbus.Bus
	Groups   *Groups

	// Serializer is only used by clients; a hub uses its dispatcher's.
	Serializer serializer.Serializer

	// QueueSize bounds the frames read but not yet dispatched.
	QueueSize int
	// DrainTimeout bounds how long teardown waits for the in-flight dispatch.
	DrainTimeout time.Duration
	// HeartbeatInterval enables heartbeats when positive.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout disconnects a peer that leaves a heartbeat unanswered this long.
	HeartbeatTimeout time.Duration
	// HandshakeTimeout bounds how long a client waits for the server marker frame.
	HandshakeTimeout time.Duration

	// BroadcastMode and ErrorPolicy are the defaults of a hub's own Groups.
	BroadcastMode BroadcastMode
	ErrorPolicy   ErrorPolicy

	OnConnecting   func(ctx context.Context, s *Session) error
	OnConnected    func(ctx context.Context, s *Session)
	OnDisconnected func(ctx context.Context, s *Session)
}

// Option is a function that configures Options
type Option func(*Options)

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		QueueSize:        10,
		DrainTimeout:     time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus session lifecycle events are published to
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *Options) {
		o.EventBus = bus
	}
}

// WithGroups shares a group registry between hubs
func WithGroups(groups *Groups) Option {
	return func(o *Options) {
		o.Groups = groups
	}
}

// WithSerializer sets the client serializer
func WithSerializer(s serializer.Serializer) Option {
	return func(o *Options) {
		o.Serializer = s
	}
}

// WithQueueSize sets the per-connection request queue size
func WithQueueSize(n int) Option {
	return func(o *Options) {
		o.QueueSize = n
	}
}

// WithDrainTimeout sets the teardown drain timeout
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DrainTimeout = d
	}
}

// WithHeartbeat enables heartbeats
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = interval
		o.HeartbeatTimeout = timeout
	}
}

// WithHandshakeTimeout sets the client handshake timeout
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = d
	}
}

// WithBroadcastDefaults sets the mode and error policy broadcasts use
// unless overridden per call
func WithBroadcastDefaults(mode BroadcastMode, policy ErrorPolicy) Option {
	return func(o *Options) {
		o.BroadcastMode = mode
		o.ErrorPolicy = policy
	}
}

// OnConnecting runs before the handshake; an error rejects the connection
func OnConnecting(fn func(ctx context.Context, s *Session) error) Option {
	return func(o *Options) {
		o.OnConnecting = fn
	}
}

// OnConnected runs once the session is Connected
func OnConnected(fn func(ctx context.Context, s *Session)) Option {
	return func(o *Options) {
		o.OnConnected = fn
	}
}

// OnDisconnected runs during teardown, after the session left its groups
func OnDisconnected(fn func(ctx context.Context, s *Session)) Option {
	return func(o *Options) {
		o.OnDisconnected = fn
	}
}

func buildOptions(opts []Option) Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.QueueSize <= 0 {
		options.QueueSize = 10
	}
	if options.DrainTimeout <= 0 {
		options.DrainTimeout = time.Second
	}
	if options.HeartbeatInterval > 0 && options.HeartbeatTimeout <= 0 {
		options.HeartbeatTimeout = 3 * options.HeartbeatInterval
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 5 * time.Second
	}
	if options.Serializer == nil {
		options.Serializer = serializer.NewMessagePack()
	}
	return options
}

package config

import (
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/serializer"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	GRPC       GRPCConfig       `json:"grpc" yaml:"grpc"`
	Hub        HubConfig        `json:"hub" yaml:"hub"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Serializer SerializerConfig `json:"serializer" yaml:"serializer"`
	WebRTC     WebRTCConfig     `json:"webrtc" yaml:"webrtc"`
	Logging    logging.Config   `json:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig represents gRPC listener configuration
type GRPCConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// HubConfig represents session and broadcast defaults for every hub
type HubConfig struct {
	QueueSize         int           `json:"queue_size" yaml:"queue_size"`
	DrainTimeout      time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	BroadcastMode     string        `json:"broadcast_mode" yaml:"broadcast_mode"`
	ErrorPolicy       string        `json:"error_policy" yaml:"error_policy"`
}

// RateLimitConfig configures the token bucket applied to every call.
// A zero Rate disables it.
type RateLimitConfig struct {
	Rate     float64 `json:"rate" yaml:"rate"`
	Capacity int64   `json:"capacity" yaml:"capacity"`
}

// SerializerConfig selects the payload serializer
type SerializerConfig struct {
	Name string `json:"name" yaml:"name"`
}

// WebRTCConfig represents WebRTC configuration
type WebRTCConfig struct {
	ICEServers []ICEServer `json:"ice_servers" yaml:"ice_servers"`
}

// ICEServer represents an ICE server configuration
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    3001,
		},
		Hub: HubConfig{
			QueueSize:        10,
			DrainTimeout:     time.Second,
			HandshakeTimeout: 5 * time.Second,
			BroadcastMode:    hub.Parallel.String(),
			ErrorPolicy:      hub.IgnoreAndContinue.String(),
		},
		Serializer: SerializerConfig{
			Name: "msgpack",
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.GRPC.Enabled {
		if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
			return NewConfigError("grpc.port", "invalid port number")
		}
		if c.GRPC.Port == c.Server.Port && c.GRPC.Host == c.Server.Host {
			return NewConfigError("grpc.port", "must differ from server.port")
		}
	}

	if c.Hub.QueueSize <= 0 {
		return NewConfigError("hub.queue_size", "must be positive")
	}

	if c.Hub.HeartbeatInterval < 0 || c.Hub.HeartbeatTimeout < 0 {
		return NewConfigError("hub.heartbeat_interval", "heartbeat durations cannot be negative")
	}

	if c.Hub.HeartbeatInterval > 0 && c.Hub.HeartbeatTimeout <= 0 {
		return NewConfigError("hub.heartbeat_timeout", "required when heartbeats are enabled")
	}

	if _, err := hub.ParseBroadcastMode(c.Hub.BroadcastMode); err != nil {
		return NewConfigError("hub.broadcast_mode", err.Error())
	}

	if _, err := hub.ParseErrorPolicy(c.Hub.ErrorPolicy); err != nil {
		return NewConfigError("hub.error_policy", err.Error())
	}

	if c.RateLimit.Rate < 0 {
		return NewConfigError("rate_limit.rate", "rate cannot be negative")
	}

	if c.RateLimit.Rate > 0 && c.RateLimit.Capacity <= 0 {
		return NewConfigError("rate_limit.capacity", "must be positive when rate limiting is enabled")
	}

	if _, err := serializer.ByName(c.Serializer.Name); err != nil {
		return NewConfigError("serializer.name", err.Error())
	}

	if len(c.WebRTC.ICEServers) == 0 {
		return NewConfigError("webrtc.ice_servers", "at least one ICE server is required")
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Hub.QueueSize)
	assert.Equal(t, time.Second, cfg.Hub.DrainTimeout)
	assert.Equal(t, "parallel", cfg.Hub.BroadcastMode)
	assert.Equal(t, "ignore", cfg.Hub.ErrorPolicy)
	assert.Equal(t, "msgpack", cfg.Serializer.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad grpc port", func(c *Config) { c.GRPC.Port = 70000 }, "grpc.port"},
		{"shared port", func(c *Config) { c.GRPC.Port = c.Server.Port }, "grpc.port"},
		{"empty queue", func(c *Config) { c.Hub.QueueSize = 0 }, "hub.queue_size"},
		{"heartbeat without timeout", func(c *Config) { c.Hub.HeartbeatInterval = time.Second }, "hub.heartbeat_timeout"},
		{"bad mode", func(c *Config) { c.Hub.BroadcastMode = "fanout" }, "hub.broadcast_mode"},
		{"bad policy", func(c *Config) { c.Hub.ErrorPolicy = "retry" }, "hub.error_policy"},
		{"rate without capacity", func(c *Config) { c.RateLimit.Rate = 10 }, "rate_limit.capacity"},
		{"bad serializer", func(c *Config) { c.Serializer.Name = "xml" }, "serializer.name"},
		{"no ice servers", func(c *Config) { c.WebRTC.ICEServers = nil }, "webrtc.ice_servers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("disabled grpc ignores its port", func(t *testing.T) {
		cfg := Default()
		cfg.GRPC.Enabled = false
		cfg.GRPC.Port = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
hub:
  queue_size: 32
  drain_timeout: 2s
  heartbeat_interval: 5s
  heartbeat_timeout: 15s
  broadcast_mode: sequential
  error_policy: propagate
rate_limit:
  rate: 100
  capacity: 200
serializer:
  name: json
`), 0o600))

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Hub.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Hub.DrainTimeout)
	assert.Equal(t, 5*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Hub.HeartbeatTimeout)
	assert.Equal(t, "sequential", cfg.Hub.BroadcastMode)
	assert.Equal(t, "propagate", cfg.Hub.ErrorPolicy)
	assert.Equal(t, float64(100), cfg.RateLimit.Rate)
	assert.Equal(t, int64(200), cfg.RateLimit.Capacity)
	assert.Equal(t, "json", cfg.Serializer.Name)
	// Untouched sections keep their defaults
	assert.Equal(t, 3001, cfg.GRPC.Port)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9090},"logging":{"level":"debug","format":"console"}}`), 0o600))

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	_, err := Load(LoadOptions{Path: path})
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HUBRPC_SERVER_PORT", "4000")
	t.Setenv("HUBRPC_GRPC_ENABLED", "false")
	t.Setenv("HUBRPC_HUB_QUEUE_SIZE", "64")
	t.Setenv("HUBRPC_HUB_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HUBRPC_HUB_HEARTBEAT_TIMEOUT", "30s")
	t.Setenv("HUBRPC_RATE_LIMIT_RATE", "5")
	t.Setenv("HUBRPC_RATE_LIMIT_CAPACITY", "10")
	t.Setenv("HUBRPC_LOG_LEVEL", "warn")
	t.Setenv("HUBRPC_ICE_SERVERS", "stun:a.example:3478,stun:b.example:3478")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, 64, cfg.Hub.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatTimeout)
	assert.Equal(t, float64(5), cfg.RateLimit.Rate)
	assert.Equal(t, int64(10), cfg.RateLimit.Capacity)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.WebRTC.ICEServers[0].URLs)
}

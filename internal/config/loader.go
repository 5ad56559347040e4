package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from various sources
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	// Apply options
	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	// Load from file if path is specified
	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// envPrefix prefixes every environment override
const envPrefix = "HUBRPC_"

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	// Server configuration
	if host := getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	setInt(&cfg.Server.Port, "SERVER_PORT")

	// gRPC configuration
	if enabled := getenv("GRPC_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.GRPC.Enabled = b
		}
	}
	if host := getenv("GRPC_HOST"); host != "" {
		cfg.GRPC.Host = host
	}
	setInt(&cfg.GRPC.Port, "GRPC_PORT")

	// Hub configuration
	setInt(&cfg.Hub.QueueSize, "HUB_QUEUE_SIZE")
	setDuration(&cfg.Hub.DrainTimeout, "HUB_DRAIN_TIMEOUT")
	setDuration(&cfg.Hub.HeartbeatInterval, "HUB_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Hub.HeartbeatTimeout, "HUB_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Hub.HandshakeTimeout, "HUB_HANDSHAKE_TIMEOUT")
	if mode := getenv("HUB_BROADCAST_MODE"); mode != "" {
		cfg.Hub.BroadcastMode = mode
	}
	if policy := getenv("HUB_ERROR_POLICY"); policy != "" {
		cfg.Hub.ErrorPolicy = policy
	}

	// Rate limit configuration
	if rate := getenv("RATE_LIMIT_RATE"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.RateLimit.Rate = f
		}
	}
	if capacity := getenv("RATE_LIMIT_CAPACITY"); capacity != "" {
		if n, err := strconv.ParseInt(capacity, 10, 64); err == nil {
			cfg.RateLimit.Capacity = n
		}
	}

	if name := getenv("SERIALIZER"); name != "" {
		cfg.Serializer.Name = name
	}

	// Logging configuration
	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// WebRTC configuration
	if iceServers := getenv("ICE_SERVERS"); iceServers != "" {
		// Parse comma-separated ICE server URLs
		cfg.WebRTC.ICEServers = []ICEServer{
			{URLs: strings.Split(iceServers, ",")},
		}
	}
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}

package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration
type Config struct {
	// Network settings
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	MaxClients int    `yaml:"max_clients"`

	// Message settings
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// Per-session inbound rate limit in messages per second. 0 disables it.
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`

	// Rooms
	DefaultRoom string `yaml:"default_room"`

	// Heartbeats are answered with HeartbeatAckType carrying the same id
	HeartbeatType    string `yaml:"heartbeat_type"`
	HeartbeatAckType string `yaml:"heartbeat_ack_type"`

	// Health monitoring
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ClientTimeout       time.Duration `yaml:"client_timeout"`

	// Tokens accepted in the "token" query parameter. Empty disables auth.
	Tokens []string `yaml:"tokens"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:          "127.0.0.1:8080",
		Path:                "/ws",
		MaxClients:          10_000,
		MaxMessageSize:      1024 * 1024, // 1MB
		WriteTimeout:        5 * time.Second,
		MessageRate:         0,
		MessageBurst:        20,
		DefaultRoom:         "general",
		HeartbeatType:       "ping",
		HeartbeatAckType:    "pong",
		HealthCheckInterval: 30 * time.Second,
		ClientTimeout:       5 * time.Minute,
		LogLevel:            "info",
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	case c.Path == "" || c.Path[0] != '/':
		return fmt.Errorf("%w: path must start with /", ErrInvalidConfig)
	case c.MaxClients <= 0:
		return fmt.Errorf("%w: max_clients must be positive", ErrInvalidConfig)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidConfig)
	case c.MessageRate < 0:
		return fmt.Errorf("%w: message_rate must not be negative", ErrInvalidConfig)
	case c.MessageRate > 0 && c.MessageBurst <= 0:
		return fmt.Errorf("%w: message_burst must be positive when rate limiting", ErrInvalidConfig)
	case c.DefaultRoom == "":
		return fmt.Errorf("%w: default_room is required", ErrInvalidConfig)
	case c.HealthCheckInterval <= 0:
		return fmt.Errorf("%w: health_check_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultServerConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the client
type Config struct {
	// Connection settings
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	WriteTimeout   time.Duration     `yaml:"write_timeout"`
	MaxMessageSize int64             `yaml:"max_message_size"`

	// Reconnection policy
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	BackoffFactor        float64       `yaml:"backoff_factor"`
	Jitter               float64       `yaml:"jitter"` // fraction of the delay, [0, 1]

	// Outbound queue
	QueueEnabled bool `yaml:"queue_enabled"`
	MaxQueueSize int  `yaml:"max_queue_size"`

	// Heartbeat
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // 0 disables
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`  // 0 disables staleness checks
	HeartbeatType     string        `yaml:"heartbeat_type"`
	HeartbeatAckType  string        `yaml:"heartbeat_ack_type"` // counted in Stats.HeartbeatAcks

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		URL:                  "ws://localhost:8080/ws",
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxMessageSize:       1024 * 1024, // 1MB
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		BackoffFactor:        2,
		Jitter:               0.1,
		QueueEnabled:         true,
		MaxQueueSize:         100,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     0,
		HeartbeatType:        "ping",
		HeartbeatAckType:     "pong",
		LogLevel:             "info",
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", ErrInvalidConfig)
	case c.ReconnectDelay <= 0:
		return fmt.Errorf("%w: reconnect_delay must be positive", ErrInvalidConfig)
	case c.MaxReconnectDelay < c.ReconnectDelay:
		return fmt.Errorf("%w: max_reconnect_delay must be >= reconnect_delay", ErrInvalidConfig)
	case c.BackoffFactor < 1:
		return fmt.Errorf("%w: backoff_factor must be >= 1", ErrInvalidConfig)
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("%w: jitter must be within [0, 1]", ErrInvalidConfig)
	case c.QueueEnabled && c.MaxQueueSize <= 0:
		return fmt.Errorf("%w: max_queue_size must be positive when the queue is enabled", ErrInvalidConfig)
	case c.HeartbeatInterval < 0 || c.HeartbeatTimeout < 0:
		return fmt.Errorf("%w: heartbeat durations must not be negative", ErrInvalidConfig)
	case c.HeartbeatTimeout > 0 && c.HeartbeatInterval == 0:
		return fmt.Errorf("%w: heartbeat_timeout requires heartbeat_interval", ErrInvalidConfig)
	case c.HeartbeatInterval > 0 && c.HeartbeatType == "":
		return fmt.Errorf("%w: heartbeat_type is required when heartbeats are enabled", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultClientConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultClientConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Protocol  ProtocolConfig
	Settings  SettingsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	// Per agent connection, inbound messages per second.
	AgentMessagesPerSecond int `envconfig:"AGENT_MSG_RPS" default:"50"`
}

// ProtocolConfig holds camera session protocol timings.
type ProtocolConfig struct {
	DebounceWindow     time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"500ms"`
	BroadcastInterval  time.Duration `envconfig:"BROADCAST_INTERVAL" default:"3s"`
	HeartbeatInterval  time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"1s"`
	LivenessInterval   time.Duration `envconfig:"LIVENESS_INTERVAL" default:"2s"`
	AcquireTimeout     time.Duration `envconfig:"ACQUIRE_TIMEOUT" default:"5s"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2s"`
	RestoreBaseDelay   time.Duration `envconfig:"RESTORE_BASE_DELAY" default:"300ms"`
	RestoreMaxDelay    time.Duration `envconfig:"RESTORE_MAX_DELAY" default:"5s"`
	MaxRestoreAttempts int           `envconfig:"MAX_RESTORE_ATTEMPTS" default:"5"`
	RestrictedURLs     []string      `envconfig:"RESTRICTED_URLS" default:"chrome://**,chrome-extension://**,file://**,edge://**,about:**"`
}

// SettingsConfig holds settings store configuration.
type SettingsConfig struct {
	// Empty selects the per-user default (see paths.SettingsFile).
	Path string `envconfig:"SETTINGS_PATH"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects timings the protocol cannot run with.
func (c *Config) Validate() error {
	p := c.Protocol
	switch {
	case p.HeartbeatInterval <= 0:
		return fmt.Errorf("invalid config: HEARTBEAT_INTERVAL must be positive")
	case p.LivenessInterval <= 0:
		return fmt.Errorf("invalid config: LIVENESS_INTERVAL must be positive")
	case p.BroadcastInterval <= 0:
		return fmt.Errorf("invalid config: BROADCAST_INTERVAL must be positive")
	case p.AcquireTimeout <= 0:
		return fmt.Errorf("invalid config: ACQUIRE_TIMEOUT must be positive")
	case p.MaxRestoreAttempts < 1:
		return fmt.Errorf("invalid config: MAX_RESTORE_ATTEMPTS must be at least 1")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:      100,
			Burst:                  200,
			Enabled:                true,
			AgentMessagesPerSecond: 50,
		},
		Protocol: ProtocolConfig{
			DebounceWindow:     500 * time.Millisecond,
			BroadcastInterval:  3 * time.Second,
			HeartbeatInterval:  time.Second,
			LivenessInterval:   2 * time.Second,
			AcquireTimeout:     5 * time.Second,
			RequestTimeout:     2 * time.Second,
			RestoreBaseDelay:   300 * time.Millisecond,
			RestoreMaxDelay:    5 * time.Second,
			MaxRestoreAttempts: 5,
			RestrictedURLs: []string{
				"chrome://**",
				"chrome-extension://**",
				"file://**",
				"edge://**",
				"about:**",
			},
		},
	}
}

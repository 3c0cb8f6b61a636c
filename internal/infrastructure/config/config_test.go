package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Protocol config
	assert.Equal(t, 500*time.Millisecond, cfg.Protocol.DebounceWindow)
	assert.Equal(t, 3*time.Second, cfg.Protocol.BroadcastInterval)
	assert.Equal(t, 5, cfg.Protocol.MaxRestoreAttempts)
	assert.Contains(t, cfg.Protocol.RestrictedURLs, "chrome://**")

	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"HOST":                 "127.0.0.1",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"RATE_LIMIT_RPS":       "500",
		"RATE_LIMIT_ENABLED":   "false",
		"DEBOUNCE_WINDOW":      "250ms",
		"BROADCAST_INTERVAL":   "10s",
		"MAX_RESTORE_ATTEMPTS": "8",
		"RESTRICTED_URLS":      "chrome://**,brave://**",
		"SETTINGS_PATH":        "/var/lib/gazetech/settings.toml",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Protocol.DebounceWindow)
	assert.Equal(t, 10*time.Second, cfg.Protocol.BroadcastInterval)
	assert.Equal(t, 8, cfg.Protocol.MaxRestoreAttempts)
	assert.Equal(t, []string{"chrome://**", "brave://**"}, cfg.Protocol.RestrictedURLs)
	assert.Equal(t, "/var/lib/gazetech/settings.toml", cfg.Settings.Path)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("HEARTBEAT_INTERVAL", "750ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Protocol.HeartbeatInterval)

	// Defaults still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 2*time.Second, cfg.Protocol.LivenessInterval)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "ACQUIRE_TIMEOUT", "soon"},
		{"zero heartbeat", "HEARTBEAT_INTERVAL", "0s"},
		{"no restore attempts", "MAX_RESTORE_ATTEMPTS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back
			cfg := LoadOrDefault()
			assert.Equal(t, Default().Protocol, cfg.Protocol)
		})
	}
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		host     string
		wantPort string
		wantHost string
	}{
		{"default values", "", "", "8000", "0.0.0.0"},
		{"custom port", "9000", "", "9000", "0.0.0.0"},
		{"custom host", "", "localhost", "8000", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("PORT")
			os.Unsetenv("HOST")
			if tt.port != "" {
				t.Setenv("PORT", tt.port)
			}
			if tt.host != "" {
				t.Setenv("HOST", tt.host)
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantPort, cfg.Server.Port)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
		})
	}
}

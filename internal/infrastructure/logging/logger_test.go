package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewFromSettings(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		development bool
		want        zapcore.Level
	}{
		{"production default", "", false, zapcore.InfoLevel},
		{"development default", "", true, zapcore.DebugLevel},
		{"explicit warn", "warn", false, zapcore.WarnLevel},
		{"bad level falls back", "loud", false, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewFromSettings(tt.level, tt.development)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNamedAndWith(t *testing.T) {
	logger := NewNop().Named("coordinator").With(zap.String("tab", "t1"))
	require.NotNil(t, logger)
	logger.Info("does not panic")
}

func TestTee(t *testing.T) {
	primary, primaryLogs := observer.New(zapcore.DebugLevel)
	extra, extraLogs := observer.New(zapcore.WarnLevel)

	logger := (&Logger{Logger: zap.New(primary)}).Tee(extra).Named("agent")
	logger.Info("camera restored")
	logger.Warn("camera track ended")

	assert.Equal(t, 2, primaryLogs.Len())
	require.Equal(t, 1, extraLogs.Len())
	assert.Equal(t, "agent", extraLogs.All()[0].LoggerName)
}

package logger

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   interface{}
	}{
		{"stdout", Config{Output: "stdout"}, os.Stdout},
		{"stderr", Config{Output: "stderr"}, os.Stderr},
		{"default", Config{Output: ""}, os.Stdout},
		{"file without filename", Config{Output: "file"}, os.Stdout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SetupWriter(tt.config))
		})
	}
}

func TestNew(t *testing.T) {
	cfg := Config{Level: "info", Format: "json", Output: "stdout"}

	logger := New(cfg)
	require.NotNil(t, logger)
	logger.Info("test message", "key", "value")
}

package logger

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/gapscan/pkg/config"
)

func testConfig(level, format string) *config.Config {
	return &config.Config{
		Env:       "test",
		LogLevel:  level,
		LogFormat: format,
	}
}

func TestNew(t *testing.T) {
	log := New(testConfig("debug", "json"))
	if log == nil {
		t.Fatal("Expected logger to be created")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	log := New(testConfig("info", "console"))
	if log == nil {
		t.Fatal("Expected logger to be created")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWithField(t *testing.T) {
	log := New(testConfig("error", "json"))

	child := log.WithField("module", "scan")
	if child == nil || child == log {
		t.Fatal("Expected a derived logger instance")
	}

	// Chaining must not panic
	child.WithFields(map[string]interface{}{"a": 1, "b": "x"}).Debug("ok")
}

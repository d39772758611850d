package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

func TestNew_SetsGlobalLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := New(&config.Config{Env: "development", LogLevel: tt.level, LogFormat: "json"})
			require.NotNil(t, log)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"fatal", zerolog.FatalLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json", "test")

	log.Debug("debug message")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "debug message", entry["message"])
	assert.Equal(t, "test", entry["env"])

	buf.Reset()
	log.WithRun("run-1").WithStage("S2_ALLOCATE").WithFields(map[string]interface{}{
		"day":    7,
		"reason": "singular_covariance",
	}).Warn("fallback")
	entry = decodeLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "S2_ALLOCATE", entry["stage"])
	assert.Equal(t, float64(7), entry["day"])
	assert.Equal(t, "singular_covariance", entry["reason"])

	buf.Reset()
	log.WithError(errors.New("boom")).Errorf("stage %s failed", "S4")
	entry = decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "stage S4 failed", entry["message"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json", "test")

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warnf("shown %d", 1)
	assert.True(t, strings.Contains(buf.String(), "shown 1"))
}

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "console", "test")
	log.WithField("entity", "TECH").Info("loaded")

	out := buf.String()
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "TECH")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithField("k", "v").Info("discarded")
	})
}

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "****", SanitizeToken("short"))
	assert.Equal(t, "abcd...ijkl", SanitizeToken("abcdefghijkl"))
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}
	assert.True(t, strings.HasPrefix(SanitizePath(filepath.Join(home, "TeslaCam", "clip.mp4")), "~"), "home is masked")
	if !strings.HasPrefix(home, "/var/tmp") {
		assert.Equal(t, "/var/tmp/x", SanitizePath("/var/tmp/x"))
	}
}

func TestNewTextLogger_WithExportID(t *testing.T) {
	var buf bytes.Buffer
	logger := WithExportID(NewTextLogger(&buf, "info"), "exp-1")
	logger.Info("hello")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "export_id=exp-1")
	assert.NotContains(t, out, "hidden", "debug lines are filtered at info level")
}

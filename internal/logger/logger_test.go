package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/iliyamo/dorm-reservation/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := New(config.LogConfig{Level: "info", Format: "json", ServiceName: "dorm-test", File: path, MaxSizeMB: 1})

	l.Info("hello")
	l.Debug("hidden")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"service_name":"dorm-test"`)
	assert.NotContains(t, string(b), "hidden")
}

func TestNewAudit_FileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "reservation.log")
	l := NewAudit(config.QueueConfig{AuditFile: path, MaxSizeMB: 1})

	l.Info("reservation event")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"reservation event"`)
	assert.Contains(t, string(b), `"timestamp"`)
}

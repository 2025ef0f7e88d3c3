package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"fieldops/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldops.log")
	log, err := New(config.LogConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("clocked in")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"clocked in"`)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}

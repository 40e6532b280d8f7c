package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hal.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Output = path
	cfg.Level = "warn"

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Named("tls").Info("dropped")
	logger.Named("tls").Warn("handshake failed", zap.Uint32("handle", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "handshake failed", entry["msg"])
	assert.Equal(t, "tls", entry["logger"])
	assert.Equal(t, float64(3), entry["handle"])
}

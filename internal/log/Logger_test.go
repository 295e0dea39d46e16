package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.log")
	logger, err := NewLogger(false, true, path)
	require.NoError(t, err)

	logger.Named("eval").Debugw("frame done", "psnr", 31.5)
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame done")
	assert.Contains(t, string(data), "\"logger\":\"eval\"")
}

func TestInfoLevelDropsDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.log")
	logger, err := NewLogger(false, false, path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNop(t *testing.T) {
	logger := NewNop()
	assert.NotPanics(t, func() { logger.Infow("ignored", "k", 1) })
}

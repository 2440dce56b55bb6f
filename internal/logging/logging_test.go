package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenLogFileEmptyPath(t *testing.T) {
	file, err := OpenLogFile("")
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestAttachFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kasirsync.log")
	file, err := OpenLogFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })

	logger := AttachFileLogger(zap.NewNop(), file, "info")
	logger.Named("sync").Info("entry synced", zap.String("client_ref", "ref-1"))
	logger.Debug("filtered out")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"client_ref":"ref-1"`)
	assert.Contains(t, string(raw), `"logger":"sync"`)
	assert.NotContains(t, string(raw), "filtered out")
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, err := New("chatty")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

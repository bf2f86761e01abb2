package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "blitz.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, MaxSize: 1}))
	defer InitDefault()

	assert.Equal(t, path, GetCurrentLogFile())
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	WithField("component", "test").Info("hello from the test")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
	assert.Contains(t, string(data), "component=test")
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "chatty"}))
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	assert.Empty(t, GetCurrentLogFile())
}

func TestInit_JSON(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", JSON: true}))
	defer InitDefault()
	_, ok := Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestInit_NoConsoleWritesOnlyToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.log")
	require.NoError(t, Init(Config{Level: "info", OutputFile: path, NoConsole: true}))
	defer InitDefault()

	WithFields(logrus.Fields{"component": "tui", "active_id": 76}).Info("quiet line")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "quiet line")
	assert.Contains(t, string(data), "active_id=76")
}

func TestInit_NoConsoleNoFileDiscards(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", NoConsole: true}))
	defer InitDefault()
	assert.NotPanics(t, func() { Infof("dropped %d", 1) })
	assert.Empty(t, GetCurrentLogFile())
}

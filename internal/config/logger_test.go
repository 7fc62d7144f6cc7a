package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.True(t, logger.ReportCaller)

	logger, err = NewLogger(LogConfig{Level: "loud", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.False(t, logger.ReportCaller)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sampark.log")
	logger, err := NewLogger(LogConfig{Level: "info", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Info("rule matched")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rule matched")
}

func TestNewLogger_FileOutputRequiresPath(t *testing.T) {
	_, err := NewLogger(LogConfig{Output: "both"})
	assert.Error(t, err)
}

func TestInitLogger_ConfiguresStandardLogger(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Log.Output = "stdout"
	t.Cleanup(func() { logrus.SetLevel(logrus.InfoLevel) })

	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	assert.Same(t, logrus.StandardLogger(), logger)
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}

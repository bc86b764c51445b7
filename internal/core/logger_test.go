package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestInit_PrettyLog tests logger initialization with pretty logging
func TestInit_PrettyLog(t *testing.T) {
	err := Init(true, "")
	require.NoError(t, err)

	logger := zap.L()
	assert.NotNil(t, logger)
	logger.Info("Test message")
}

// TestInit_JSONLog tests logger initialization with JSON logging
func TestInit_JSONLog(t *testing.T) {
	err := Init(false, "warn")
	require.NoError(t, err)

	logger := zap.L()
	assert.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

// TestInit_InvalidLevel tests that an unknown level is rejected
func TestInit_InvalidLevel(t *testing.T) {
	err := Init(false, "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse log level")
}

// TestLogStep_Success tests logging a successful step
func TestLogStep_Success(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	zap.ReplaceGlobals(zap.New(core))

	LogStep("download", 1.5, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Installation step completed", entry.Message)
	assert.Equal(t, zap.DebugLevel, entry.Level)
	assert.Equal(t, "download", entry.ContextMap()["step"])
	assert.Equal(t, 1.5, entry.ContextMap()["duration_seconds"])
	assert.Equal(t, true, entry.ContextMap()["success"])
}

// TestLogStep_Error tests logging a failed step
func TestLogStep_Error(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	zap.ReplaceGlobals(zap.New(core))

	LogStep("extract", 0.25, errors.New("zip: not a valid zip file"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Installation step failed", entry.Message)
	assert.Equal(t, "extract", entry.ContextMap()["step"])
	assert.Equal(t, false, entry.ContextMap()["success"])
	assert.Contains(t, entry.ContextMap()["error"], "not a valid zip file")
}

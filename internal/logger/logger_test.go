package logger

import (
	"testing"

	"github.com/smallbiznis/geodirect/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToInfo(t *testing.T) {
	log, err := New(config.Config{AppName: "Geodirect", AppVersion: "0.1.0"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewRejectsBogusLevel(t *testing.T) {
	_, err := New(config.Config{LogLevel: "shouting"})
	assert.Error(t, err)
}

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, zapLogger, err := New("debug", true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, zapLogger.Core().Enabled(zapcore.DebugLevel))

	_, zapLogger, err = New("", false)
	require.NoError(t, err)
	assert.False(t, zapLogger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, zapLogger.Core().Enabled(zapcore.InfoLevel))

	_, _, err = New("loud", false)
	assert.ErrorContains(t, err, "invalid log level")
}

package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := auth.NewZapLogger(zap.New(core))

	logger.Info("session verification failed: %v", "expired", "user_id", "u-1")
	logger.Warn("100%% done")
	logger.Debug("plain message")
	logger.Error("code %d", 401, "reason", "expired")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, "session verification failed: expired", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "u-1", entries[0].ContextMap()["user_id"])

	assert.Equal(t, "100% done", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)

	assert.Equal(t, "plain message", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "code 401", entries[3].Message)
	assert.Equal(t, "expired", entries[3].ContextMap()["reason"])
}

func TestZapLogger_NilFallsBackToNop(t *testing.T) {
	logger := auth.NewZapLogger(nil)
	assert.NotPanics(t, func() {
		logger.Info("hello %s", "world")
	})
}

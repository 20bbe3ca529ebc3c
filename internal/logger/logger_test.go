package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("writes json to a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.log")
		log, err := New(Config{Service: "ledger", Level: "info", Format: "json", Output: path})
		require.NoError(t, err)

		log.Debug("not written")
		log.Info("line approved", zap.String("line_id", "abc"))
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"line approved"`)
		assert.Contains(t, string(data), `"line_id":"abc"`)
		assert.Contains(t, string(data), `"service":"ledger"`)
		assert.NotContains(t, string(data), "not written")
	})

	t.Run("level names are case insensitive", func(t *testing.T) {
		log, err := New(Config{Level: "DEBUG", Output: "stderr"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("defaults to info on stdout", func(t *testing.T) {
		log, err := New(Config{})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New(Config{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("rejects unwritable output", func(t *testing.T) {
		_, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "ledger.log")})
		assert.Error(t, err)
	})
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	fallback := zap.New(core)

	FromContext(context.Background(), fallback).Info("from fallback")

	scoped := fallback.With(zap.String("request_id", "r-1"))
	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx, zap.NewNop()).Info("from context")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "r-1", logs.All()[1].ContextMap()["request_id"])
	assert.NotNil(t, FromContext(context.Background(), nil))
}

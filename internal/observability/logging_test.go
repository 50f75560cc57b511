package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Must not panic.
	logger.Info("test message", String("key", "value"))
	logger.Debug("below threshold, dropped")
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Debug("console debug")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNewLogger_LevelParsing(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(LogConfig{Level: level, Format: "json"})
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	child := logger.With(String("component", "test"))
	require.NotNil(t, child)
	child.Info("message with bound fields")
}

func TestContextRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")

	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestContextTraceID(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "trace-456")

	assert.Equal(t, "trace-456", TraceIDFromContext(ctx))
	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestLogger_WithContext(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	ctx := ContextWithRequestID(context.Background(), "req-789")
	ctx = ContextWithTraceID(ctx, "trace-789")

	enriched := logger.WithContext(ctx)
	require.NotNil(t, enriched)
	enriched.Info("message carries request and trace ids")

	// Context without correlation values returns the same logger.
	assert.Equal(t, logger, logger.WithContext(context.Background()))
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	require.NotNil(t, logger)

	logger.Info("discarded")
	logger.Error("discarded")
	assert.NoError(t, logger.Sync())
}

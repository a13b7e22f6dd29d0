package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withObservedLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestWithContextCarriesAnnotations(t *testing.T) {
	logs := withObservedLogger(t)

	ctx := WithOperation(WithSource(context.Background(), "pg"), "describe")
	WithContext(ctx).Debug("extracted")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "pg", fields["source"])
	assert.Equal(t, "describe", fields["operation"])
}

func TestWithContextOnBareContext(t *testing.T) {
	logs := withObservedLogger(t)

	WithContext(context.Background()).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

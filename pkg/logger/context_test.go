package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContext_Fields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{raw: zap.New(core)}

	ctx := ContextWithTraceID(context.Background(), "trace-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	ctx = ContextWithRequestID(ctx, "req-1")
	l.WithContext(ctx).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestWithContext_RequestIDIsNotATraceID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{raw: zap.New(core)}

	ctx := ContextWithRequestID(context.Background(), "req-2")
	l.WithContext(ctx).Info("hello")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-2", fields["request_id"])
	assert.NotContains(t, fields, "trace_id")
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestNew_RespectsLevel(t *testing.T) {
	l := New("error")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestContextLogger_AttachesIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithConnectionID(ctx, 7)
	ctx = WithTraceID(ctx, "trace-9")

	cl.WithContext(ctx).Info("connection registered")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "sess-1", fields["session_id"])
		assert.Equal(t, int64(7), fields["connection_id"])
		assert.Equal(t, "trace-9", fields["trace_id"])
	}
}

func TestContextLogger_EmptyContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.Sugar(context.Background()).Infow("tick")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Empty(t, entries[0].ContextMap())
	}
}

func TestContextLogger_TraceIDFromActiveSpan(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b, 0x0c},
		SpanID:     trace.SpanID{0x01},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	cl.Sugar(ctx).Infow("setting applied")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, sc.TraceID().String(), entries[0].ContextMap()["trace_id"])
	}

	id, ok := TraceIDFrom(WithTraceID(ctx, "explicit"))
	assert.True(t, ok)
	assert.Equal(t, "explicit", id)
}

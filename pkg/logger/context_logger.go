package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	sessionIDKey    contextKey = "session_id"
	connectionIDKey contextKey = "connection_id"
	traceIDKey      contextKey = "trace_id"
)

// WithSessionID tags ctx with the broadcast session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithConnectionID tags ctx with an engine connection id.
func WithConnectionID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// SessionIDFrom returns the session id stored in ctx, if any.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// TraceIDFrom returns the trace id set with WithTraceID, or the id of the
// span active in ctx.
func TraceIDFrom(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		return id, true
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String(), true
	}
	return "", false
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext returns a logger carrying the session, connection and trace
// ids found in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if id, ok := SessionIDFrom(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := ctx.Value(connectionIDKey).(int); ok {
		fields = append(fields, zap.Int("connection_id", id))
	}
	if id, ok := TraceIDFrom(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// Sugar is WithContext for callers that log key/value pairs.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs an HTTP request with context
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMS int64, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info("http request", append([]zapcore.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", statusCode),
		zap.Int64("duration_ms", durationMS),
	}, fields...)...)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}

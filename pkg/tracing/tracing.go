package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "livecast"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "livecast",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a Jaeger-backed global tracer provider. With tracing
// disabled the otel no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes and stops the provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common span attributes
var (
	SessionIDKey      = attribute.Key("broadcast.session_id")
	ConnectionIDKey   = attribute.Key("connection.id")
	ConnectionNameKey = attribute.Key("connection.name")
	ProtocolKey       = attribute.Key("connection.protocol")
	ScoreKey          = attribute.Key("quality.score")
	TrendKey          = attribute.Key("quality.trend")
	AdjustmentKey     = attribute.Key("quality.adjustment")
	BitrateKey        = attribute.Key("encoder.bitrate")
	SettingKey        = attribute.Key("setting.key")
	SettingCategory   = attribute.Key("setting.category")
	DurationKey       = attribute.Key("duration_ms")
)

// TraceHTTPRequest traces a control API request
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceBroadcast traces a session level operation such as start or stop
func TraceBroadcast(ctx context.Context, operation, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "broadcast."+operation,
		trace.WithAttributes(SessionIDKey.String(sessionID)),
	)
}

// TraceConnection traces a call into the streaming engine for one target
func TraceConnection(ctx context.Context, operation, name, protocol string) (context.Context, trace.Span) {
	return StartSpan(ctx, "connection."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			ConnectionNameKey.String(name),
			ProtocolKey.String(protocol),
		),
	)
}

// TraceQualityAdjustment traces pushing a quality decision to the encoder
func TraceQualityAdjustment(ctx context.Context, adjustment string, score float64, trend string) (context.Context, trace.Span) {
	return StartSpan(ctx, "quality.apply",
		trace.WithAttributes(
			AdjustmentKey.String(adjustment),
			ScoreKey.Float64(score),
			TrendKey.String(trend),
		),
	)
}

// TraceSettingChange traces one runtime configuration change
func TraceSettingChange(ctx context.Context, key, category string) (context.Context, trace.Span) {
	return StartSpan(ctx, "settings.apply",
		trace.WithAttributes(
			SettingKey.String(key),
			SettingCategory.String(category),
		),
	)
}

// TracePreferenceOperation traces a preference store round trip
func TracePreferenceOperation(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return StartSpan(ctx, "prefs."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			SettingKey.String(key),
		),
	)
}

// MeasureDuration records elapsed milliseconds on the current span
func MeasureDuration(ctx context.Context, start time.Time) {
	AddSpanAttributes(ctx, DurationKey.Int64(time.Since(start).Milliseconds()))
}

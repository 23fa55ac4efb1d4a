package middleware

import (
	"time"

	"livecast/pkg/logger"
	"livecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// TracingMiddleware opens a server span per request and echoes the trace id
// in the X-Trace-ID header. With tracing disabled an inbound X-Trace-ID is
// carried instead.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		if id := tracing.TraceID(ctx); id != "" {
			c.Header("X-Trace-ID", id)
		} else if id := c.GetHeader("X-Trace-ID"); id != "" {
			// No exporter: keep the caller's id so log lines still correlate.
			ctx = logger.WithTraceID(ctx, id)
			c.Header("X-Trace-ID", id)
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// RequestLogger logs one line per request, tagged with the request's trace id.
func RequestLogger(l *zap.SugaredLogger) gin.HandlerFunc {
	cl := logger.NewContextLogger(l.Desugar())
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		cl.LogRequest(c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			zap.String("client_ip", c.ClientIP()),
			zap.String("operator", Operator(c)),
		)
	}
}

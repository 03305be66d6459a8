package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware creates a middleware that adds distributed tracing to HTTP requests
func TracingMiddleware(tracer *observability.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract trace context from incoming request headers
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// Get the route pattern for span naming
			routePattern := getRoutePattern(r)
			spanName := fmt.Sprintf("%s %s", r.Method, routePattern)

			// Start a new span
			ctx, span := tracer.StartSpan(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPScheme(getScheme(r)),
					semconv.HTTPTarget(r.URL.Path),
					semconv.HTTPRoute(routePattern),
					semconv.NetHostName(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
					attribute.String("http.client_ip", getClientIP(r)),
				),
			)
			defer span.End()

			// Create a response wrapper to capture status code
			wrapper := &tracingResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Process request with traced context
			next.ServeHTTP(wrapper, r.WithContext(ctx))

			// Record response attributes
			span.SetAttributes(
				semconv.HTTPStatusCode(wrapper.statusCode),
				attribute.Int("http.response_content_length", wrapper.bytesWritten),
			)

			// Mark span as error if status >= 500
			if wrapper.statusCode >= 500 {
				span.SetAttributes(attribute.Bool("error", true))
			}
		})
	}
}

// tracingResponseWriter wraps http.ResponseWriter to capture status code
type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *tracingResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *tracingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Implement http.Flusher if the underlying ResponseWriter supports it
func (w *tracingResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getRoutePattern extracts the route pattern from chi router context
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	// Fallback to normalized path
	return normalizePath(r)
}

// getScheme returns the request scheme (http or https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	// Check for proxy headers
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// GetTraceID extracts the trace ID from the context
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// AddTraceIDToResponse adds the trace ID to response headers for debugging
func AddTraceIDToResponse(w http.ResponseWriter, ctx context.Context) {
	traceID := GetTraceID(ctx)
	if traceID != "" {
		w.Header().Set("X-Trace-ID", traceID)
	}
}

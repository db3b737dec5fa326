package logging

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type scopeCtxKey struct{}
type requestCtxKey struct{}

// WithScope attaches the memory scope to the context for log correlation.
func WithScope(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scopeID)
}

// ScopeFromContext returns the scope attached by WithScope, or "".
func ScopeFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(scopeCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches a request identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID attached by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if scope := ScopeFromContext(ctx); scope != "" {
		fields = append(fields, zap.String("scope_id", scope))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

func stdout() *os.File {
	return os.Stdout
}

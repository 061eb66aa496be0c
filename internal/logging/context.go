package logging

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if recordID := RecordIDFromContext(ctx); recordID != "" {
		fields = append(fields, zap.String("record.id", recordID))
	}

	return fields
}

type requestCtxKey struct{}
type recordCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidRequestID reports whether id is safe to use as a correlation token:
// non-empty, at most 128 chars of [a-zA-Z0-9_-].
func ValidRequestID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// NewRequestID mints a fresh correlation token.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds the correlation token to context. Every log line
// written through a Logger with this context carries it as request.id.
// Panics if requestID fails ValidRequestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !ValidRequestID(requestID) {
		panic(fmt.Sprintf("logging: invalid requestID %q", requestID))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RecordIDFromContext extracts the persisted record ID from context.
func RecordIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(recordCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRecordID tags subsequent log lines with the record being written.
// Empty ids leave ctx unchanged.
func WithRecordID(ctx context.Context, recordID string) context.Context {
	if recordID == "" {
		return ctx
	}
	return context.WithValue(ctx, recordCtxKey{}, recordID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

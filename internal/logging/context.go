package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type jobCtxKey struct{}
type runCtxKey struct{}
type resourceCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if job := JobFromContext(ctx); job != "" {
		fields = append(fields, zap.String("job.name", job))
	}
	if run := RunIDFromContext(ctx); run != "" {
		fields = append(fields, zap.String("run.id", run))
	}
	if res := ResourceFromContext(ctx); res != "" {
		fields = append(fields, zap.String("resource", res))
	}
	return fields
}

// WithJob tags ctx with the name of the scheduled loop running it.
func WithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobCtxKey{}, name)
}

// JobFromContext returns the loop name or "".
func JobFromContext(ctx context.Context) string {
	s, _ := ctx.Value(jobCtxKey{}).(string)
	return s
}

// WithRunID tags ctx with the ID of one loop iteration.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the run ID or "".
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// WithResource tags ctx with the quota resource an outbound call consumes.
func WithResource(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, resourceCtxKey{}, resource)
}

// ResourceFromContext returns the resource key or "".
func ResourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(resourceCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

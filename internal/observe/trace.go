package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/interviewlens"

// AnalysisIDKey is the span attribute and log key carrying the analysis
// record ID.
const AnalysisIDKey = "analysis_id"

type analysisIDKey struct{}

// Tracer returns the interviewlens tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. If ctx carries an analysis ID (see
// [WithAnalysisID]) it is attached to the span. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := AnalysisID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(AnalysisIDKey, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithAnalysisID returns a context whose spans and loggers are tagged with the
// analysis record id. The current span, if any, is tagged as well.
func WithAnalysisID(ctx context.Context, id string) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(AnalysisIDKey, id))
	return context.WithValue(ctx, analysisIDKey{}, id)
}

// AnalysisID returns the analysis id stored by [WithAnalysisID], or "".
func AnalysisID(ctx context.Context) string {
	id, _ := ctx.Value(analysisIDKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// RecordError marks the span in ctx as failed and returns err unchanged so it
// can be used inline: return observe.RecordError(ctx, err). A nil err is a
// no-op.
func RecordError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Logger returns the default logger with trace_id, span_id and analysis_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := AnalysisID(ctx); id != "" {
		attrs = append(attrs, slog.String(AnalysisIDKey, id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}

// Package observe carries the interviewlens telemetry: OpenTelemetry metrics
// and traces, trace-aware slog loggers, and the HTTP middleware that ties a
// request's span, log line and latency sample together.
//
// [InitProvider] installs the global providers and, when asked, a Prometheus
// scrape handler. Code that records metrics takes a [*Metrics]; production
// wiring passes [DefaultMetrics], tests build their own with [NewMetrics] and a
// ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every interviewlens instrument.
const meterName = "github.com/MrWong99/interviewlens"

// Metrics holds the instruments recorded by the pipeline, the provider
// chains and the HTTP layer. The zero value is not usable.
type Metrics struct {
	// ── Stage latency (seconds) ──

	ExtractDuration  metric.Float64Histogram // ffmpeg audio extraction
	STTDuration      metric.Float64Histogram // transcription incl. fallbacks
	AnalysisDuration metric.Float64Histogram // frame loop
	LLMDuration      metric.Float64Histogram // coaching feedback

	// ── Volume ──

	// Analyses counts finished submissions by "status".
	Analyses metric.Int64Counter
	// ActiveAnalyses is the number of submissions in flight.
	ActiveAnalyses metric.Int64UpDownCounter
	// AnalysisFrames counts analysed frames by "face" (bool).
	AnalysisFrames metric.Int64Counter

	// ── Providers ──

	// ProviderRequests counts attempts by "provider", "kind" and "status"
	// (ok, declined, error, skipped).
	ProviderRequests metric.Int64Counter
	// ProviderErrors counts hard failures by "provider" and "kind".
	ProviderErrors metric.Int64Counter
	// BreakerTransitions counts circuit breaker moves by "provider", "kind"
	// and target "state".
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration is labelled with "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets spans a quick extraction up to a long answer's frame loop.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// httpBuckets covers API handlers, which return before the analysis ends.
var httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error
	hist := func(name, desc string, buckets []float64) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		ExtractDuration:  hist("interviewlens.extract.duration", "Latency of audio extraction.", stageBuckets),
		STTDuration:      hist("interviewlens.stt.duration", "Latency of speech-to-text transcription.", stageBuckets),
		AnalysisDuration: hist("interviewlens.analysis.duration", "Latency of frame-by-frame video analysis.", stageBuckets),
		LLMDuration:      hist("interviewlens.llm.duration", "Latency of LLM feedback generation.", stageBuckets),

		Analyses:       counter("interviewlens.analyses", "Finished submissions by status."),
		AnalysisFrames: counter("interviewlens.analysis.frames", "Analysed video frames by face presence."),

		ProviderRequests:   counter("interviewlens.provider.requests", "Provider attempts by provider, kind and status."),
		ProviderErrors:     counter("interviewlens.provider.errors", "Provider failures by provider and kind."),
		BreakerTransitions: counter("interviewlens.provider.breaker.transitions", "Circuit breaker state changes by provider, kind and state."),

		HTTPRequestDuration: hist("interviewlens.http.request.duration", "HTTP request latency by method, route and status.", httpBuckets),
	}
	active, err := meter.Int64UpDownCounter("interviewlens.analyses.active",
		metric.WithDescription("Submissions currently being processed."))
	errs = append(errs, err)
	m.ActiveAnalyses = active

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] bound to
// [otel.GetMeterProvider]. Call it after [InitProvider] so the instruments
// reach the configured exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest counts one attempt against a provider.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one hard provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a provider's breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("state", state),
	))
}

// RecordFrames counts n analysed frames with or without a face.
func (m *Metrics) RecordFrames(ctx context.Context, face bool, n int64) {
	if n <= 0 {
		return
	}
	m.AnalysisFrames.Add(ctx, n, metric.WithAttributes(attribute.Bool("face", face)))
}

// RecordAnalysis counts one finished submission with the given status
// ("processed" or "error").
func (m *Metrics) RecordAnalysis(ctx context.Context, status string) {
	m.Analyses.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

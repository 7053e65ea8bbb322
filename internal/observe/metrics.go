// Package observe provides application-wide observability primitives for
// Wernicke: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Wernicke metrics.
const meterName = "github.com/MrWong99/wernicke"

// Metrics holds all OpenTelemetry metric instruments for the server.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage GPU inference latency. Use with attribute:
	//   attribute.String("stage", "vad"|"recognize"|"align"|"diarize"|"correct")
	StageDuration metric.Float64Histogram

	// PartialLatency tracks flush-to-partial delivery latency.
	PartialLatency metric.Float64Histogram

	// FinalLatency tracks flush-to-final delivery latency.
	FinalLatency metric.Float64Histogram

	// --- Counters ---

	// BuffersFlushed counts flushed audio buffers. Use with attribute:
	//   attribute.String("reason", "silence"|"max_duration"|"disconnect")
	BuffersFlushed metric.Int64Counter

	// ValidationFailures counts rejected audio chunks.
	ValidationFailures metric.Int64Counter

	// GPUOOMEvents counts out-of-memory events on the inference path.
	GPUOOMEvents metric.Int64Counter

	// AudioBytesReceived counts accepted audio payload bytes.
	AudioBytesReceived metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("wernicke.stage.duration",
		metric.WithDescription("Latency of one GPU pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PartialLatency, err = m.Float64Histogram("wernicke.partial.latency",
		metric.WithDescription("Latency from buffer flush to partial result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalLatency, err = m.Float64Histogram("wernicke.final.latency",
		metric.WithDescription("Latency from buffer flush to final result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BuffersFlushed, err = m.Int64Counter("wernicke.buffers.flushed",
		metric.WithDescription("Total flushed audio buffers by flush reason."),
	); err != nil {
		return nil, err
	}
	if met.ValidationFailures, err = m.Int64Counter("wernicke.validation.failures",
		metric.WithDescription("Total rejected audio chunks."),
	); err != nil {
		return nil, err
	}
	if met.GPUOOMEvents, err = m.Int64Counter("wernicke.gpu.oom_events",
		metric.WithDescription("Total GPU out-of-memory events."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesReceived, err = m.Int64Counter("wernicke.audio.bytes_received",
		metric.WithDescription("Total accepted audio payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wernicke.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wernicke.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records one pipeline stage execution time in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordFlush records one buffer flush with its trigger reason.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.BuffersFlushed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// Package observe provides application-wide observability for parley:
// OpenTelemetry metrics, tracing, structured logging helpers, and the HTTP
// middleware that ties them together on the health/metrics mux.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so everything can be
// scraped from the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/openparley/parley"

// Turn outcome attribute values recorded with [Metrics.RecordTurnOutcome].
const (
	TurnCompleted   = "completed"
	TurnFailed      = "failed"
	TurnInterrupted = "interrupted"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks utterance-to-transcript latency.
	RecognitionDuration metric.Float64Histogram

	// GenerationFirstChunk tracks time from generation start to the first
	// speakable chunk.
	GenerationFirstChunk metric.Float64Histogram

	// SynthesisDuration tracks per-chunk text-to-speech latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackStartDelay tracks the user-perceived response delay: utterance
	// end to the first audio written to the playback device.
	PlaybackStartDelay metric.Float64Histogram

	// TurnDuration tracks the whole turn, utterance end to playback complete.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished turns. Use with attribute:
	//   attribute.String("outcome", ...) — one of [TurnCompleted],
	//   [TurnFailed], [TurnInterrupted].
	Turns metric.Int64Counter

	// FramesDropped counts capture frames discarded under backpressure.
	FramesDropped metric.Int64Counter

	// DeviceReopens counts audio device reopen attempts. Use with attribute:
	//   attribute.String("device", "capture"|"playback")
	DeviceReopens metric.Int64Counter

	// --- Gauges ---

	// OrchestratorState holds the current orchestrator state as its numeric
	// value (0 = idle).
	OrchestratorState metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
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
	if met.RecognitionDuration, err = m.Float64Histogram("parley.recognition.duration",
		metric.WithDescription("Latency from utterance end to transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationFirstChunk, err = m.Float64Histogram("parley.generation.first_chunk",
		metric.WithDescription("Latency from generation start to the first speakable chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("parley.synthesis.duration",
		metric.WithDescription("Per-chunk text-to-speech synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStartDelay, err = m.Float64Histogram("parley.playback.start_delay",
		metric.WithDescription("Delay from utterance end to first audio on the playback device."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("End-to-end turn latency, utterance end to playback complete."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.frames.dropped",
		metric.WithDescription("Capture frames discarded under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.DeviceReopens, err = m.Int64Counter("parley.device.reopens",
		metric.WithDescription("Audio device reopen attempts by device."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.OrchestratorState, err = m.Int64Gauge("parley.orchestrator.state",
		metric.WithDescription("Current orchestrator state (numeric)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnOutcome increments the turn counter with the standard outcome
// attribute.
func (m *Metrics) RecordTurnOutcome(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDeviceReopen increments the device reopen counter with the standard
// device attribute.
func (m *Metrics) RecordDeviceReopen(ctx context.Context, device string) {
	m.DeviceReopens.Add(ctx, 1,
		metric.WithAttributes(attribute.String("device", device)),
	)
}

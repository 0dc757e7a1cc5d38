// Package observe provides application-wide observability primitives for
// voxloop: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] binds to the global meter
// provider; tests should build their own with [NewMetrics] and a
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

// meterName is the instrumentation scope name used for all voxloop metrics.
const meterName = "github.com/MrWong99/voxloop"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeNoSpeech    = "no_speech"
	OutcomeEmpty       = "empty_transcript"
	OutcomeFailed      = "failed"
)

// Metrics holds the instruments recorded by the pipeline, the resilience
// layer and the HTTP server. The zero value is not usable; build one with
// [NewMetrics] or take [DefaultMetrics].
type Metrics struct {
	// STTDuration is the wall time of one utterance transcription.
	STTDuration metric.Float64Histogram
	// LLMFirstUnit is the time from prompt to the first speakable sentence.
	LLMFirstUnit metric.Float64Histogram
	// TTSDuration is the time from a synthesis request to its first audio.
	TTSDuration metric.Float64Histogram
	// HTTPRequestDuration is recorded by [Middleware] per method and route.
	HTTPRequestDuration metric.Float64Histogram

	// Turns counts finished turns by "outcome".
	Turns metric.Int64Counter
	// BargeIns counts responses cut short by the user.
	BargeIns metric.Int64Counter
	// StateTransitions counts pipeline state changes by target "state".
	StateTransitions metric.Int64Counter
	// DroppedFrames counts captured frames evicted from a slow reader.
	DroppedFrames metric.Int64Counter
	// ProviderErrors counts failures by "provider" (the stage) and "kind".
	ProviderErrors metric.Int64Counter
	// BreakerTransitions counts circuit breaker changes by "breaker" and "state".
	BreakerTransitions metric.Int64Counter

	// ActiveSessions is 1 while a pipeline session runs.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, sized for speech
// backends that answer anywhere between tens of milliseconds and seconds.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// instruments creates instruments on one meter and collects every creation
// error so [NewMetrics] can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) latency(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:         in.latency("voxloop.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets...),
		LLMFirstUnit:        in.latency("voxloop.llm.first_unit", "Latency from LLM request to the first sentence unit.", latencyBuckets...),
		TTSDuration:         in.latency("voxloop.tts.duration", "Latency of text-to-speech synthesis to first audio.", latencyBuckets...),
		HTTPRequestDuration: in.latency("voxloop.http.request.duration", "HTTP request latency by method and route."),

		Turns:              in.counter("voxloop.turns", "Conversation turns by outcome."),
		BargeIns:           in.counter("voxloop.barge_ins", "Responses interrupted by user speech."),
		StateTransitions:   in.counter("voxloop.state.transitions", "Pipeline state transitions by target state."),
		DroppedFrames:      in.counter("voxloop.audio.dropped_frames", "Captured frames dropped for slow readers."),
		ProviderErrors:     in.counter("voxloop.provider.errors", "Provider errors by stage and kind."),
		BreakerTransitions: in.counter("voxloop.breaker.transitions", "Circuit breaker state changes by breaker and target state."),

		ActiveSessions: in.gauge("voxloop.active_sessions", "Number of running pipeline sessions."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] bound to
// [otel.GetMeterProvider]. It panics if the instruments cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderError counts one failure of provider during kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordTurn increments the turn counter for outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStateTransition increments the transition counter for state.
func (m *Metrics) RecordStateTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordBreakerTransition counts a circuit breaker named breaker entering
// state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}

// Package observe wires the bot's OpenTelemetry metrics and traces, the
// trace-aware slog helpers and the HTTP middleware for the probe listener.
//
// Instruments are created through the OTel metrics API and scraped through
// the Prometheus bridge set up by [InitProvider]. Tests build their own
// [Metrics] with [NewMetrics] and a manual reader so they never share
// counters with [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/bingbong"

// Message outcomes recorded by [Metrics.RecordRequest].
const (
	StatusPlayed          = "played"
	StatusSynthesisFailed = "synthesis_failed"
	StatusPlaybackFailed  = "playback_failed"
	StatusRejected        = "rejected"
)

// Metrics holds the bot's instruments. All of them are safe for concurrent
// use.
type Metrics struct {
	// SynthesisDuration is the Azure round trip for one message.
	SynthesisDuration metric.Float64Histogram
	// PlaybackDuration covers joining the channel and playing the file.
	PlaybackDuration metric.Float64Histogram
	// QueueWait is the time between intake and the start of processing.
	QueueWait metric.Float64Histogram

	// Requests is labelled with "status".
	Requests         metric.Int64Counter
	SynthesizedBytes metric.Int64Counter
	// CommandInvocations is labelled with "command" and "status".
	CommandInvocations metric.Int64Counter
	// BreakerTransitions is labelled with "breaker" and "to".
	BreakerTransitions metric.Int64Counter
	// SynthesisErrors is labelled with "kind".
	SynthesisErrors metric.Int64Counter
	PlaybackErrors  metric.Int64Counter

	QueueDepth          metric.Int64Gauge
	ActiveVoiceSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled with "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds.
var (
	synthesisBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30}
	playbackBuckets  = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}
	httpBuckets      = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// builder creates instruments on one meter and collects the errors.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...))
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		SynthesisDuration: b.seconds("bingbong.synthesis.duration", "Latency of speech synthesis.", synthesisBuckets),
		PlaybackDuration:  b.seconds("bingbong.playback.duration", "Time spent joining and playing one message.", playbackBuckets),
		QueueWait:         b.seconds("bingbong.queue.wait", "Time a message waited in the queue.", playbackBuckets),

		Requests:           b.counter("bingbong.requests", "Processed messages by outcome."),
		SynthesizedBytes:   b.counter("bingbong.synthesis.bytes", "Audio bytes received from the speech backend.", metric.WithUnit("By")),
		CommandInvocations: b.counter("bingbong.command.invocations", "Slash command invocations by command and status."),
		BreakerTransitions: b.counter("bingbong.breaker.transitions", "Circuit breaker state changes by breaker and target state."),
		SynthesisErrors:    b.counter("bingbong.synthesis.errors", "Synthesis errors by kind."),
		PlaybackErrors:     b.counter("bingbong.playback.errors", "Voice join and playback errors."),

		HTTPRequestDuration: b.seconds("bingbong.http.request.duration", "HTTP request latency by route and status.", httpBuckets),
	}

	var err error
	met.QueueDepth, err = b.m.Int64Gauge("bingbong.queue.depth",
		metric.WithDescription("Messages waiting to be spoken."))
	b.errs = append(b.errs, err)
	met.ActiveVoiceSessions, err = b.m.Int64UpDownCounter("bingbong.voice.sessions",
		metric.WithDescription("Joined voice channels."))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics on the global meter provider, created on
// first use. It panics if an instrument cannot be created.
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

// RecordRequest counts one processed message.
func (m *Metrics) RecordRequest(ctx context.Context, status string) {
	m.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSynthesisError counts one failed synthesis, for example of kind
// "timeout", "circuit_open" or "backend".
func (m *Metrics) RecordSynthesisError(ctx context.Context, kind string) {
	m.SynthesisErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCommand counts one slash command invocation.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.CommandInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status)))
}

// RecordBreakerTransition counts one breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to)))
}

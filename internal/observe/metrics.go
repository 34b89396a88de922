// Package observe provides application-wide observability primitives for
// derfbot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all derfbot metrics.
const meterName = "github.com/MrWong99/derfbot"

// Task outcomes recorded by [Metrics.RecordTask].
const (
	OutcomeOK        = "ok"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
	OutcomeSkipped   = "skipped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency, including summaries.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// StageDuration tracks the handling time of one queue item. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// --- Counters ---

	// TasksProcessed counts queue items by queue and outcome.
	TasksProcessed metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// CaptureFlushes counts released utterances handed to transcription.
	CaptureFlushes metric.Int64Counter

	// CaptureDropped counts released utterances that could not be handed off
	// or written.
	CaptureDropped metric.Int64Counter

	// MailboxTimeouts counts result waits that gave up. Use with
	// attribute.String("prefix", ...).
	MailboxTimeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveSpeakers tracks speakers with capture state.
	ActiveSpeakers metric.Int64UpDownCounter

	// InFlight tracks requests registered with a context store.
	InFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP handling time by method, mux route
	// and status. Recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// Provider kinds for [Metrics.ObserveProvider]. LLM calls are labelled with
// the worker kind ("response", "summary") instead.
const (
	KindSTT = "stt"
	KindTTS = "tts"
)

// latencyBuckets are histogram boundaries in seconds. LLM replies can take
// most of a minute, so the range runs past the voice-latency scale.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 60,
}

// instruments creates instruments on one meter and keeps every error.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
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

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:   in.latency("derfbot.stt.duration", "Speech-to-text latency by provider."),
		LLMDuration:   in.latency("derfbot.llm.duration", "LLM completion latency by provider and worker kind."),
		TTSDuration:   in.latency("derfbot.tts.duration", "Text-to-speech latency by provider."),
		StageDuration: in.latency("derfbot.stage.duration", "Time spent handling one queue item by stage."),

		TasksProcessed:   in.counter("derfbot.tasks.processed", "Queue items handled by queue and outcome."),
		ProviderRequests: in.counter("derfbot.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   in.counter("derfbot.provider.errors", "Failed provider calls by provider and kind."),
		CaptureFlushes:   in.counter("derfbot.capture.flushes", "Captured utterances queued for transcription."),
		CaptureDropped:   in.counter("derfbot.capture.dropped", "Captured utterances dropped before transcription."),
		MailboxTimeouts:  in.counter("derfbot.mailbox.timeouts", "Result waits that timed out by mailbox prefix."),

		ActiveSpeakers: in.gauge("derfbot.capture.active_speakers", "Speakers with live capture buffers."),
		InFlight:       in.gauge("derfbot.requests.in_flight", "Requests waiting for a reply."),

		HTTPRequestDuration: in.latency("derfbot.http.request.duration", "HTTP request latency by method, route and status."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics, created on first use from
// the global meter provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordTask counts one handled queue item.
func (m *Metrics) RecordTask(ctx context.Context, queue, outcome string) {
	m.TasksProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	))
}

// RecordStage records how long one item spent in stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// ObserveProvider records one backend call: its latency on the histogram
// for kind, the request counter and, when err is set, the error counter.
func (m *Metrics) ObserveProvider(ctx context.Context, kind, provider string, elapsed time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("provider", provider), attribute.String("kind", kind)}
	hist := m.LLMDuration
	switch kind {
	case KindSTT:
		hist = m.STTDuration
	case KindTTS:
		hist = m.TTSDuration
	}
	hist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))

	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
}

// RecordMailboxTimeout counts a result wait on prefix that timed out.
func (m *Metrics) RecordMailboxTimeout(ctx context.Context, prefix string) {
	m.MailboxTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("prefix", prefix)))
}

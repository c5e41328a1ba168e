// Package observe wires Lectern's telemetry: OpenTelemetry metrics exported
// to Prometheus, tracing, trace-aware slog loggers and the HTTP middleware
// that joins them.
//
// Components take a [*Metrics] through a WithMetrics option and fall back to
// [DefaultMetrics], which binds to the global meter provider. Tests build
// their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/lectern"

// Values of the "kind" attribute.
const (
	KindTTS        = "tts"
	KindLLM        = "llm"
	KindSTT        = "stt"
	KindEmbeddings = "embeddings"
	KindBlob       = "blob"
)

// Metrics holds the instruments. All of them are safe for concurrent use.
type Metrics struct {
	ProviderRequests   metric.Int64Counter     // provider, kind, status
	ProviderErrors     metric.Int64Counter     // provider, kind
	ProviderDuration   metric.Float64Histogram // provider, kind
	CircuitTransitions metric.Int64Counter     // kind, provider, from, to

	ActiveSessions metric.Int64UpDownCounter
	AudioBytes     metric.Int64Counter // source
	CacheLookups   metric.Int64Counter // result

	HTTPRequestDuration metric.Float64Histogram // method, path
}

// Generation and synthesis calls routinely run for tens of seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error
	counter := func(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
		c, err := meter.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
		opts = append(opts, metric.WithDescription(desc), metric.WithUnit("s"))
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}

	m := &Metrics{
		ProviderRequests:   counter("lectern.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     counter("lectern.provider.errors", "Failed provider calls by provider and kind."),
		ProviderDuration:   seconds("lectern.provider.duration", "Provider call latency.", metric.WithExplicitBucketBoundaries(latencyBuckets...)),
		CircuitTransitions: counter("lectern.provider.circuit_transitions", "Circuit breaker state changes per provider."),

		AudioBytes:   counter("lectern.audio.bytes", "Audio bytes sent to clients by source.", metric.WithUnit("By")),
		CacheLookups: counter("lectern.cache.lookups", "Explanation and audio cache lookups by result."),

		HTTPRequestDuration: seconds("lectern.http.request.duration", "HTTP request latency by method and route."),
	}
	var err error
	m.ActiveSessions, err = meter.Int64UpDownCounter("lectern.sessions.active",
		metric.WithDescription("Open explanation sockets."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] bound to
// [otel.GetMeterProvider]. Call [InitProvider] first if the instruments
// should be exported.
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

// ObserveProviderCall records one provider call that began at start.
func (m *Metrics) ObserveProviderCall(ctx context.Context, provider, kind string, start time.Time, err error) {
	attrs := []attribute.KeyValue{attribute.String("provider", provider), attribute.String("kind", kind)}
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordAudioBytes(ctx context.Context, source string, n int) {
	m.AudioBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordCircuitTransition(ctx context.Context, kind, provider, from, to string) {
	m.CircuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("provider", provider),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

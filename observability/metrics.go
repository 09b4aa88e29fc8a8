package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the resilient client and the orchestrator.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	upstreamRequests   metric.Int64Counter
	upstreamDuration   metric.Float64Histogram
	circuitTransitions metric.Int64Counter
	limiterInUse       metric.Int64UpDownCounter
	runOutcomes        metric.Int64Counter
	runFinalized       metric.Int64Counter
	runDuration        metric.Float64Histogram
	errorTotal         metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.upstreamRequests, err = meter.Int64Counter("upstream.requests",
		metric.WithDescription("Outbound calls made through the resilient client, by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating upstream.requests counter: %w", err)
	}

	if m.upstreamDuration, err = meter.Float64Histogram("upstream.duration",
		metric.WithDescription("Duration of outbound calls including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating upstream.duration histogram: %w", err)
	}

	if m.circuitTransitions, err = meter.Int64Counter("circuit.transitions",
		metric.WithDescription("Circuit breaker state changes"),
	); err != nil {
		return nil, fmt.Errorf("creating circuit.transitions counter: %w", err)
	}

	if m.limiterInUse, err = meter.Int64UpDownCounter("limiter.in_use",
		metric.WithDescription("Concurrency limiter slots currently held"),
	); err != nil {
		return nil, fmt.Errorf("creating limiter.in_use counter: %w", err)
	}

	if m.runOutcomes, err = meter.Int64Counter("run.outcomes",
		metric.WithDescription("Source outcomes appended to runs"),
	); err != nil {
		return nil, fmt.Errorf("creating run.outcomes counter: %w", err)
	}

	if m.runFinalized, err = meter.Int64Counter("run.finalized",
		metric.WithDescription("Runs finalized, by terminal status"),
	); err != nil {
		return nil, fmt.Errorf("creating run.finalized counter: %w", err)
	}

	if m.runDuration, err = meter.Float64Histogram("run.duration",
		metric.WithDescription("Wall-clock duration of runs"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating run.duration histogram: %w", err)
	}

	if m.errorTotal, err = meter.Int64Counter("error.total",
		metric.WithDescription("Total errors by code and component"),
	); err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &m, nil
}

// RecordUpstream records one resilient call. outcome is "ok" or an error code.
func (m *Metrics) RecordUpstream(ctx context.Context, circuitKey, outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("circuit_key", circuitKey),
		attribute.String("outcome", outcome),
		attribute.Int("attempts", attempts),
	))
	m.upstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("circuit_key", circuitKey),
	))
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, circuitKey, from, to string) {
	if m == nil {
		return
	}
	m.circuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("circuit_key", circuitKey),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// LimiterAcquired increments the held-slot gauge.
func (m *Metrics) LimiterAcquired(ctx context.Context) {
	if m == nil {
		return
	}
	m.limiterInUse.Add(ctx, 1)
}

// LimiterReleased decrements the held-slot gauge.
func (m *Metrics) LimiterReleased(ctx context.Context) {
	if m == nil {
		return
	}
	m.limiterInUse.Add(ctx, -1)
}

// RecordOutcome records a source outcome appended to a run.
func (m *Metrics) RecordOutcome(ctx context.Context, source string, success bool, errorCode string) {
	if m == nil {
		return
	}
	m.runOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
		attribute.String("error_code", errorCode),
	))
}

// RecordRunFinalized records a run reaching a terminal status.
func (m *Metrics) RecordRunFinalized(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runFinalized.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordError records an error by code and component.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	if m == nil {
		return
	}
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("component", component),
	))
}

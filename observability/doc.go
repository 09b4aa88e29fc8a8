// Package observability wires OpenTelemetry tracing and metrics into fanout.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, cfg, log)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanUpstreamCall)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, cfg, log)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("fanoutd"))
//	metrics.RecordRunFinalized(ctx, "PARTIAL", duration)
//
// A nil *Metrics is valid and records nothing.
package observability

// Package httpclient makes resilient outbound calls.
//
// A Client composes a per-key circuit breaker, a process-wide concurrency
// limiter and a retry policy around a Transport. One Execute call is one
// logical request: the breaker is consulted once, one limiter slot is held
// for every attempt, and each attempt reports its result to the breaker.
//
//	client, err := httpclient.New(cfg, breaker, limiter,
//	    httpclient.WithLogger(log),
//	    httpclient.WithMetrics(metrics),
//	)
//
//	resp, err := client.Execute(ctx, httpclient.Request{
//	    Method: http.MethodGet,
//	    URL:    "https://api.example.com/v1/lookup?q=jane",
//	}, "")
//
// An empty circuit key uses the request host (host[:port]).
//
// Failures are *errors.AppError values with one of the codes CIRCUIT_OPEN,
// LIMITER_UNAVAILABLE, TRANSIENT_UPSTREAM or PERMANENT_UPSTREAM.
package httpclient

// Package resilience provides the fault-tolerance primitives every outbound
// call in fanout goes through.
//
// This package includes:
//   - RetryPolicy: backoff computation and retryable-outcome classification
//   - CircuitBreaker: a per-key closed/open/half-open availability gate
//   - ConcurrencyLimiter: a process-wide bound on in-flight work
//
// All three are plain values constructed once at startup and shared by
// reference; their state is internally synchronized.
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
//	lim := resilience.NewConcurrencyLimiter(resilience.LimiterConfig{Capacity: 10})
//	policy := resilience.DefaultRetryPolicy()
//
//	if !cb.Allow(key) {
//	    return ErrCircuitOpen
//	}
//	err := lim.Do(ctx, func(ctx context.Context) error {
//	    return callUpstream(ctx)
//	})
package resilience

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/observability"
	"github.com/kbukum/fanout/resilience"
)

// Client makes one resilient outbound call per Execute.
type Client struct {
	transport Transport
	breaker   *resilience.CircuitBreaker
	limiter   *resilience.ConcurrencyLimiter
	policy    resilience.RetryPolicy
	config    Config
	log       *logger.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the net/http transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the logger used for per-attempt events.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client around the shared breaker and limiter. Nil breaker or
// limiter get private defaults.
func New(cfg Config, breaker *resilience.CircuitBreaker, limiter *resilience.ConcurrencyLimiter, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		breaker: breaker,
		limiter: limiter,
		policy:  cfg.Retry,
		config:  cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if c.limiter == nil {
		c.limiter = resilience.NewConcurrencyLimiter(resilience.LimiterConfig{})
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.WithComponent("httpclient")
	if c.transport == nil {
		t, err := NewHTTPTransport(cfg)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}
	return c, nil
}

// Breaker returns the circuit breaker the client reports to.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Execute performs req with retry, circuit breaking and concurrency limiting.
// circuitKey names the protected dependency; empty means the URL host.
func (c *Client) Execute(ctx context.Context, req Request, circuitKey string) (*Response, error) {
	key := circuitKey
	if key == "" {
		host, err := HostKey(req.URL)
		if err != nil {
			return nil, apperrors.InvalidInput("url", err.Error())
		}
		key = host
	}
	target := logger.RedactURL(req.URL)
	start := c.now()

	ctx, span := observability.StartSpan(ctx, observability.SpanUpstreamCall, trace.WithAttributes(
		attribute.String(observability.AttrCircuitKey, key),
	))
	defer span.End()

	resp, attempts, err := c.execute(ctx, req, key, target)

	outcome := "ok"
	if err != nil {
		outcome = apperrors.CodeOf(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String(observability.AttrErrorCode, outcome))
	}
	span.SetAttributes(attribute.Int(observability.AttrAttempts, attempts))
	c.metrics.RecordUpstream(ctx, key, outcome, attempts, c.now().Sub(start))
	return resp, err
}

func (c *Client) execute(ctx context.Context, req Request, key, target string) (*Response, int, error) {
	if r, ok := req.Body.(io.Reader); ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, apperrors.InvalidInput("body", err.Error())
		}
		req.Body = data
	}

	if !c.breaker.Allow(key) {
		c.log.Warn("circuit open, call rejected", logger.Fields(
			logger.FieldCircuitKey, key,
			logger.FieldTarget, target,
		))
		return nil, 0, apperrors.CircuitOpen(key)
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		c.breaker.Release(key)
		return nil, 0, apperrors.LimiterUnavailable(err)
	}
	defer release()

	for attempt := 1; ; attempt++ {
		attemptStart := c.now()
		resp, err := c.attempt(ctx, req)
		fields := logger.Fields(
			logger.FieldCircuitKey, key,
			logger.FieldTarget, target,
			"method", req.Method,
			logger.FieldAttempt, attempt,
			logger.FieldLatency, c.now().Sub(attemptStart).Milliseconds(),
		)

		if err == nil && req.allows(resp.StatusCode) {
			c.breaker.RecordSuccess(key)
			resp.Attempts = attempt
			fields[logger.FieldStatus] = resp.StatusCode
			c.log.Debug("upstream call succeeded", fields)
			return resp, attempt, nil
		}

		// Nothing reached the upstream; it is not to blame.
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			c.breaker.Release(key)
			fields["exception"] = fmt.Sprintf("%T", reqErr.Err)
			c.log.Warn("upstream request rejected locally", fields)
			return nil, attempt, apperrors.InvalidInput("request", reqErr.Error())
		}

		// The caller went away; the upstream is not to blame.
		if err != nil && ctx.Err() != nil {
			c.breaker.Release(key)
			fields["exception"] = fmt.Sprintf("%T", err)
			c.log.Warn("upstream call abandoned", fields)
			return nil, attempt, apperrors.TransientUpstream(target, 0, attempt, ctx.Err())
		}

		status := 0
		var retryable bool
		if err != nil {
			retryable = c.policy.IsRetryableError(err)
			fields["exception"] = fmt.Sprintf("%T", err)
		} else {
			status = resp.StatusCode
			retryable = c.policy.IsRetryableStatus(status)
			fields[logger.FieldStatus] = status
		}
		// An admitted call keeps its attempts even if this opens the circuit.
		c.breaker.RecordFailure(key)

		if !retryable || attempt >= c.policy.MaxAttempts {
			c.log.Warn("upstream call failed", fields)
			return nil, attempt, surface(target, status, attempt, retryable, err)
		}

		backoff := c.policy.ComputeBackoff(attempt)
		fields["backoff_ms"] = backoff.Milliseconds()
		c.log.Info("upstream call failed, retrying", fields)

		if err := resilience.Sleep(ctx, backoff); err != nil {
			return nil, attempt, apperrors.TransientUpstream(target, status, attempt, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	resp, err := c.transport.RoundTrip(attemptCtx, req)
	if err == nil && resp == nil {
		return nil, errNilResponse
	}
	return resp, err
}

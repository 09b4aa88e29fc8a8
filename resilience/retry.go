package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"slices"
	"syscall"
	"time"
)

// DefaultRetryStatuses are the HTTP statuses treated as transient.
var DefaultRetryStatuses = []int{408, 425, 429, 500, 502, 503, 504}

// RetryPolicy holds the backoff and classification rules for retried calls.
// The zero value is usable; unset fields fall back to DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BaseBackoff is the delay before the second attempt.
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	// Multiplier is the exponential growth factor.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`
	// JitterRatio perturbs each delay by a uniform offset in ±(delay·JitterRatio).
	JitterRatio float64 `yaml:"jitter_ratio" mapstructure:"jitter_ratio"`
	// MaxBackoff caps a single delay. 0 means uncapped.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	// RetryOnStatuses lists the HTTP statuses considered transient.
	RetryOnStatuses []int `yaml:"retry_on_statuses" mapstructure:"retry_on_statuses"`

	// Rand returns a value in [0, 1). Tests pin it; nil uses math/rand/v2.
	Rand func() float64 `yaml:"-" mapstructure:"-"`
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseBackoff:     200 * time.Millisecond,
		Multiplier:      2.0,
		JitterRatio:     0.2,
		RetryOnStatuses: slices.Clone(DefaultRetryStatuses),
	}
}

// ApplyDefaults fills unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.RetryOnStatuses == nil {
		p.RetryOnStatuses = d.RetryOnStatuses
	}
}

// ComputeBackoff returns the delay to wait after the given 1-based attempt
// failed. The result is never negative.
func (p RetryPolicy) ComputeBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	backoff := float64(p.BaseBackoff) * math.Pow(multiplier, float64(attempt-1))

	if p.JitterRatio > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		spread := backoff * p.JitterRatio
		backoff += (r()*2 - 1) * spread
	}

	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	if backoff < 0 || math.IsNaN(backoff) {
		return 0
	}
	if backoff > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(backoff)
}

// IsRetryableStatus reports whether an HTTP status is in RetryOnStatuses.
func (p RetryPolicy) IsRetryableStatus(code int) bool {
	return slices.Contains(p.RetryOnStatuses, code)
}

// IsRetryableError reports whether a transport error is transient: timeouts,
// connection resets and refusals, truncated responses, and temporary DNS
// failures. Cancellation is never retryable.
func (p RetryPolicy) IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn until it succeeds, retryIf rejects its error, or the policy's
// attempts are exhausted. The last error is returned. A nil retryIf retries
// every error except cancellation.
func Retry[T any](ctx context.Context, p RetryPolicy, retryIf func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p.ApplyDefaults()
	if retryIf == nil {
		retryIf = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) || attempt == p.MaxAttempts {
			break
		}
		if err := Sleep(ctx, p.ComputeBackoff(attempt)); err != nil {
			break
		}
	}
	return zero, lastErr
}

package resilience

import (
	"context"
	"sync"
)

// LimiterConfig configures a concurrency limiter.
type LimiterConfig struct {
	// Capacity is the maximum number of concurrent holders.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
	// OnAcquire is called after a slot is taken.
	OnAcquire func() `yaml:"-" mapstructure:"-"`
	// OnRelease is called after a slot is returned.
	OnRelease func() `yaml:"-" mapstructure:"-"`
}

// DefaultLimiterCapacity is used when Capacity is unset.
const DefaultLimiterCapacity = 10

// ConcurrencyLimiter is a fixed-capacity counting gate shared by every
// outbound call in the process.
type ConcurrencyLimiter struct {
	config LimiterConfig
	sem    chan struct{}
}

// NewConcurrencyLimiter creates a new limiter.
func NewConcurrencyLimiter(config LimiterConfig) *ConcurrencyLimiter {
	if config.Capacity <= 0 {
		config.Capacity = DefaultLimiterCapacity
	}
	return &ConcurrencyLimiter{
		config: config,
		sem:    make(chan struct{}, config.Capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once; only the first call frees the slot.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) (release func(), err error) {
	// A done ctx never takes a slot, even when one is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if l.config.OnAcquire != nil {
		l.config.OnAcquire()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			if l.config.OnRelease != nil {
				l.config.OnRelease()
			}
		})
	}, nil
}

// Do runs fn while holding a slot. The slot is released when fn returns or panics.
func (l *ConcurrencyLimiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Available returns the number of free slots.
func (l *ConcurrencyLimiter) Available() int {
	return l.config.Capacity - len(l.sem)
}

// InUse returns the number of slots currently held.
func (l *ConcurrencyLimiter) InUse() int {
	return len(l.sem)
}

// Capacity returns the maximum number of concurrent holders.
func (l *ConcurrencyLimiter) Capacity() int {
	return l.config.Capacity
}

package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute when the key's circuit refuses the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// RecoveryTimeout is how long a circuit stays open before admitting probes.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	// HalfOpenProbeLimit is the number of concurrent probes allowed in half-open state.
	HalfOpenProbeLimit int `yaml:"half_open_probe_limit" mapstructure:"half_open_probe_limit"`

	// Now overrides the clock.
	Now func() time.Time `yaml:"-" mapstructure:"-"`
	// OnStateChange is called after a key changes state, outside the breaker lock.
	OnStateChange func(key string, from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns the production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   3,
		RecoveryTimeout:    60 * time.Second,
		HalfOpenProbeLimit: 1,
	}
}

// ApplyDefaults fills unset fields.
func (c *CircuitBreakerConfig) ApplyDefaults() {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenProbeLimit <= 0 {
		c.HalfOpenProbeLimit = d.HalfOpenProbeLimit
	}
}

// CircuitRecord is the state tracked for one key.
type CircuitRecord struct {
	State                  State
	ConsecutiveFailures    int
	OpenedAt               time.Time
	HalfOpenProbesInFlight int
}

// CircuitBreaker tracks an independent circuit per key.
//
// States:
//   - Closed: requests pass; consecutive failures are counted
//   - Open: requests fail immediately until RecoveryTimeout has elapsed
//   - Half-Open: up to HalfOpenProbeLimit probes pass; the first result decides
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu      sync.Mutex
	records map[string]*CircuitRecord
}

type transition struct {
	key      string
	from, to State
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.ApplyDefaults()
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{
		config:  config,
		records: make(map[string]*CircuitRecord),
	}
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Allow reports whether a call for key may proceed. In half-open state an
// admitted call counts as an in-flight probe until it is recorded or released.
func (cb *CircuitBreaker) Allow(key string) bool {
	var changed []transition
	defer func() { cb.notify(changed) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec := cb.record(key)
	changed = cb.advance(key, rec, changed)

	switch rec.State {
	case StateClosed:
		return true
	case StateHalfOpen:
		if rec.HalfOpenProbesInFlight < cb.config.HalfOpenProbeLimit {
			rec.HalfOpenProbesInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call for key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	var changed []transition
	defer func() { cb.notify(changed) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec := cb.record(key)
	changed = cb.advance(key, rec, changed)

	switch rec.State {
	case StateClosed:
		rec.ConsecutiveFailures = 0
	case StateHalfOpen:
		changed = cb.toState(key, rec, StateClosed, changed)
	}
}

// RecordFailure reports a failed call for key.
func (cb *CircuitBreaker) RecordFailure(key string) {
	var changed []transition
	defer func() { cb.notify(changed) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec := cb.record(key)
	changed = cb.advance(key, rec, changed)

	switch rec.State {
	case StateClosed:
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= cb.config.FailureThreshold {
			changed = cb.toState(key, rec, StateOpen, changed)
		}
	case StateHalfOpen:
		changed = cb.toState(key, rec, StateOpen, changed)
	}
}

// Release gives back a half-open probe admission that was never used, for
// example when the caller gave up before reaching the upstream.
func (cb *CircuitBreaker) Release(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if rec, ok := cb.records[key]; ok && rec.State == StateHalfOpen && rec.HalfOpenProbesInFlight > 0 {
		rec.HalfOpenProbesInFlight--
	}
}

// Execute runs fn through the circuit for key.
// Returns ErrCircuitOpen without calling fn if the circuit refuses the call.
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	if !cb.Allow(key) {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure(key)
	} else {
		cb.RecordSuccess(key)
	}
	return err
}

// State returns the current state for key. Unknown keys are closed.
func (cb *CircuitBreaker) State(key string) State {
	return cb.Snapshot(key).State
}

// Snapshot returns a copy of the record for key.
func (cb *CircuitBreaker) Snapshot(key string) CircuitRecord {
	var changed []transition
	defer func() { cb.notify(changed) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec, ok := cb.records[key]
	if !ok {
		return CircuitRecord{State: StateClosed}
	}
	changed = cb.advance(key, rec, changed)
	return *rec
}

// Reset forgets everything recorded for key.
func (cb *CircuitBreaker) Reset(key string) {
	var changed []transition
	defer func() { cb.notify(changed) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if rec, ok := cb.records[key]; ok {
		if rec.State != StateClosed {
			changed = append(changed, transition{key: key, from: rec.State, to: StateClosed})
		}
		delete(cb.records, key)
	}
}

// Keys returns the tracked keys in sorted order.
func (cb *CircuitBreaker) Keys() []string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	keys := make([]string, 0, len(cb.records))
	for k := range cb.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (cb *CircuitBreaker) record(key string) *CircuitRecord {
	rec, ok := cb.records[key]
	if !ok {
		rec = &CircuitRecord{State: StateClosed}
		cb.records[key] = rec
	}
	return rec
}

// advance moves an open circuit to half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) advance(key string, rec *CircuitRecord, changed []transition) []transition {
	if rec.State == StateOpen && cb.config.Now().Sub(rec.OpenedAt) >= cb.config.RecoveryTimeout {
		return cb.toState(key, rec, StateHalfOpen, changed)
	}
	return changed
}

func (cb *CircuitBreaker) toState(key string, rec *CircuitRecord, to State, changed []transition) []transition {
	if rec.State == to {
		return changed
	}
	from := rec.State
	rec.State = to
	rec.ConsecutiveFailures = 0
	rec.HalfOpenProbesInFlight = 0

	switch to {
	case StateOpen:
		rec.OpenedAt = cb.config.Now()
	case StateClosed:
		rec.OpenedAt = time.Time{}
	}
	return append(changed, transition{key: key, from: from, to: to})
}

func (cb *CircuitBreaker) notify(changed []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range changed {
		cb.config.OnStateChange(t.key, t.from, t.to)
	}
}

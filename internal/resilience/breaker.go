// Package resilience guards calls to flaky upstream dependencies with
// per-dependency circuit breakers and a bounded retry controller.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without the
// dependency being contacted at all. Callers can distinguish "the provider
// said no" from "we didn't even ask" with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the admission state of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit rejects calls before the next
	// admission check moves it to half-open.
	ResetTimeout time.Duration
	// HalfOpenTimeout is the minimum spacing between trial calls while
	// half-open.
	HalfOpenTimeout time.Duration
	// OnStateChange, when set, is invoked after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenTimeout:  30 * time.Second,
	}
}

// BreakerStatus is a point-in-time snapshot of one breaker.
type BreakerStatus struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureThreshold    int        `json:"failure_threshold"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
}

// Breaker tracks failures for one named dependency and decides whether
// calls may proceed. Transitions follow closed→open, open→half_open,
// half_open→closed and half_open→open only.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	lastSuccessAt time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = DefaultBreakerConfig().HalfOpenTimeout
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may be attempted now. Open circuits
// transition to half-open once ResetTimeout has elapsed since the last
// failure; half-open circuits admit one trial call per HalfOpenTimeout
// window. A rejection returns ErrCircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.lastFailureAt.IsZero() || b.now().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.lastFailureAt.IsZero() || b.now().Sub(b.lastFailureAt) >= b.cfg.HalfOpenTimeout {
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess notes a successful call, closing the circuit and resetting
// the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastSuccessAt = b.now()
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure notes a failed call. In the closed state the circuit opens
// once the threshold is reached; a half-open trial failure reopens it
// immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// Reset returns the breaker to a pristine closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailureAt = time.Time{}
	b.lastSuccessAt = time.Time{}
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
}

// State returns the current admission state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for reporting.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BreakerStatus{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.cfg.FailureThreshold,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		st.LastFailureAt = &t
	}
	if !b.lastSuccessAt.IsZero() {
		t := b.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, from, to)
	}
}

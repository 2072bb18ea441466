package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/trackfolio/backend/pkg/logger"
)

// RetryConfig tunes the retry controller.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// JitterFactor randomises each delay by ±factor to avoid synchronized
	// retry storms.
	JitterFactor float64
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.1,
	}
}

// minDelay floors every computed delay so jitter can never produce a
// zero-length sleep.
const minDelay = 100 * time.Millisecond

// Attempt is the diagnostic record of one call attempt. It is never
// persisted; exhausted calls carry the full trail back to the caller.
type Attempt struct {
	Number     int       `json:"attempt"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExhaustedError reports that every admitted attempt against a dependency
// failed. Attempts holds the full per-attempt trail.
type ExhaustedError struct {
	Dependency string
	Attempts   []Attempt
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Dependency, len(e.Attempts), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Caller wraps upstream calls with bounded exponential-backoff retries,
// consulting the dependency's circuit breaker before every attempt.
type Caller struct {
	cfg      RetryConfig
	breakers *Registry
	log      *logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCaller builds a retry controller over the breaker registry.
func NewCaller(cfg RetryConfig, breakers *Registry, log *logger.Logger) *Caller {
	if log == nil {
		log = logger.NewDefault("resilience")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return &Caller{
		cfg:      cfg,
		breakers: breakers,
		log:      log,
		sleep:    sleepContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Call runs fn against the named dependency. The breaker is consulted
// before every attempt: an open circuit fails fast with ErrCircuitOpen so
// the caller can fall back to stale cache without burning retry budget.
// Every attempt outcome is recorded on the breaker. The returned attempt
// trail covers all admitted attempts whether or not the call succeeded.
func (c *Caller) Call(ctx context.Context, dependency string, fn func(ctx context.Context) error) ([]Attempt, error) {
	breaker := c.breakers.Breaker(dependency)

	var attempts []Attempt
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		if err := breaker.Allow(); err != nil {
			if len(attempts) == 0 {
				// Fast fail: the dependency was never contacted.
				return nil, fmt.Errorf("%s: %w", dependency, ErrCircuitOpen)
			}
			return attempts, &ExhaustedError{Dependency: dependency, Attempts: attempts, LastErr: lastErr}
		}

		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start)

		record := Attempt{
			Number:     attempt + 1,
			DurationMS: float64(elapsed.Microseconds()) / 1000,
			Timestamp:  start.UTC(),
		}
		if err != nil {
			record.ErrorKind = errorKind(err)
		}
		attempts = append(attempts, record)

		if err == nil {
			breaker.RecordSuccess()
			return attempts, nil
		}

		breaker.RecordFailure()
		lastErr = err

		// Context errors are not retryable; the caller went away.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempts, &ExhaustedError{Dependency: dependency, Attempts: attempts, LastErr: err}
		}

		if attempt >= c.cfg.MaxRetries {
			return attempts, &ExhaustedError{Dependency: dependency, Attempts: attempts, LastErr: err}
		}

		delay := c.Delay(attempt)
		c.log.WithError(err).
			WithField("dependency", dependency).
			WithField("attempt", attempt+1).
			WithField("delay", delay.String()).
			Warn("upstream call failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}
}

// Delay computes the backoff for the given zero-based attempt index:
// min(base * 2^attempt, maxDelay) with ±JitterFactor applied, floored at
// 100ms. Pre-jitter the sequence is non-decreasing and never exceeds
// MaxDelay.
func (c *Caller) Delay(attempt int) time.Duration {
	backoff := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(c.cfg.MaxDelay) {
		backoff = float64(c.cfg.MaxDelay)
	}

	if c.cfg.JitterFactor > 0 {
		c.mu.Lock()
		jitter := backoff * c.cfg.JitterFactor * (c.rng.Float64()*2 - 1)
		c.mu.Unlock()
		backoff += jitter
	}

	d := time.Duration(backoff)
	if d < minDelay {
		d = minDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return fmt.Sprintf("%T", err)
	}
}

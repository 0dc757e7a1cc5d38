// Package resilience protects the pipeline from flaky speech and language
// backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) around
// a single backend. [FallbackGroup] chains several backends of the same kind,
// each behind its own breaker, and the typed wrappers ([LLMFallback],
// [STTFallback], [TTSFallback]) expose a group as an ordinary provider.
//
// A call aborted by context cancellation, which is what a barge-in does to
// the in-flight LLM and TTS requests, is neither a success nor a failure: it
// never trips a breaker and never fails over.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed in the half-open
	// state. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
//
// Every state change starts a new generation. A call admitted in one
// generation that settles after the breaker has moved on is ignored, so a
// slow request that started before the breaker opened cannot close it again.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int // consecutive, while closed
	probes     int // admitted, while half-open
	successes  int // successful probes, while half-open
	openedAt   time.Time
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Execute runs fn if the breaker admits it and returns fn's error unchanged.
// A rejected call returns [ErrCircuitOpen] without running fn. Errors
// matching [context.Canceled] count neither as success nor as failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(gen, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return 0, ErrCircuitOpen
		}
		cb.probes++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) settle(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	if gen != cb.generation {
		return
	}
	switch {
	case err == nil:
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.halfOpenMax {
				cb.transition(StateClosed)
			}
			return
		}
		cb.failures = 0
	case errors.Is(err, context.Canceled):
		if cb.state == StateHalfOpen {
			cb.probes--
		}
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures)
			cb.transition(StateOpen)
		}
	}
}

// refresh moves an open breaker whose reset timeout has elapsed to
// half-open. Must be called with cb.mu held.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.transition(StateHalfOpen)
	}
}

// transition switches to s, starts a new generation with zeroed counters and
// notifies the callback. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(s State) {
	from := cb.state
	if from == s {
		return
	}
	cb.state = s
	cb.generation++
	cb.failures, cb.probes, cb.successes = 0, 0, 0
	if s == StateOpen {
		cb.openedAt = cb.now()
	}
	slog.Info("circuit breaker state changed", "name", cb.name, "from", from, "to", s)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, s)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed becomes half-open here.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
}

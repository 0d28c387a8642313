// Package resilience keeps the analysis pipeline responsive when speech or
// language providers misbehave.
//
// [CircuitBreaker] stops calling a provider after repeated failures and probes
// it again after a cool-down. [FallbackGroup] tries an ordered list of
// providers, each behind its own breaker; [STTFallback] and [LLMFallback]
// expose such groups as ordinary providers. [Retry] repeats a single call with
// a fixed delay.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values get defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 3.
	HalfOpenMax int

	// IsSuccessful reports whether a non-nil error still proves the provider
	// healthy (for example "no speech in this clip"). The error is returned to
	// the caller either way.
	IsSuccessful func(err error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the closed → open → half-open cycle.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isSuccessful  func(error) bool
	onStateChange func(string, State, State)
	now           func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probesStarted int
	probesPassed  int
}

// NewCircuitBreaker returns a closed breaker.
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
		isSuccessful:  cfg.IsSuccessful,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Execute calls fn unless the breaker is open or its probe budget is spent,
// in which case it returns [ErrCircuitOpen]. A fn that fails with
// context.Canceled is not held against the provider.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, probe)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	moved := false
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		from, moved = cb.moveLocked(StateHalfOpen)
		cb.probesStarted, cb.probesPassed = 0, 0
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probesStarted >= cb.halfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probesStarted++
			probe = true
		}
	}
	cb.mu.Unlock()
	if moved {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error, probe bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case errors.Is(err, context.Canceled):
		if probe {
			cb.probesStarted--
		}
	case err == nil || (cb.isSuccessful != nil && cb.isSuccessful(err)):
		if probe {
			cb.probesPassed++
			if cb.probesPassed >= cb.halfOpenMax {
				cb.moveLocked(StateClosed)
				cb.failures = 0
			}
		} else {
			cb.failures = 0
		}
	default:
		cb.failures++
		if probe || cb.failures >= cb.maxFailures {
			cb.moveLocked(StateOpen)
			cb.openedAt = cb.now()
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", cb.name, "from", from, "consecutive_failures", failures)
		}
		cb.notify(from, to)
	}
}

// moveLocked switches state; cb.mu must be held.
func (cb *CircuitBreaker) moveLocked(to State) (from State, moved bool) {
	from = cb.state
	cb.state = to
	return from, from != to
}

func (cb *CircuitBreaker) notify(from, to State) {
	slog.Debug("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, moved := cb.moveLocked(StateClosed)
	cb.failures, cb.probesStarted, cb.probesPassed = 0, 0, 0
	cb.mu.Unlock()
	if moved {
		cb.notify(from, StateClosed)
	}
}

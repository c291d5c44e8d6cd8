// Package breaker implements the closed/open/half-open circuit breaker
// guarding the Detection Tap's (D) calls to the external detection
// collaborator, so a collaborator outage degrades to skipped detection
// rather than blocking packet flow (§4.5, §7).
//
// Trimmed to the single-breaker case: the Detection Tap has exactly one
// collaborator endpoint, so a registry keyed by endpoint (useful for
// many relay/transcode destinations) has no component here to serve
// and is not carried over.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// Closed allows requests through normally.
	Closed State = iota
	// Open rejects requests immediately.
	Open
	// HalfOpen allows a limited number of test requests.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the circuit breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of failures before opening the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close the circuit.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// New creates a new circuit breaker.
func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config:          config,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state == Open && time.Since(cb.lastFailureTime) >= cb.config.Timeout {
		return HalfOpen
	}
	return cb.state
}

// Allow checks if a request is allowed through.
func (cb *CircuitBreaker) Allow() bool {
	state := cb.State()
	return state == Closed || state == HalfOpen
}

// Execute runs fn through the circuit breaker, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures = 0

	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(Closed)
		}

	case Open:
		if time.Since(cb.lastFailureTime) >= cb.config.Timeout {
			cb.state = HalfOpen
			cb.successes = 1
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(Open)
		}

	case HalfOpen:
		cb.transitionTo(Open)

	case Open:
		// already open
	}
}

// transitionTo changes the circuit state (must be called with lock held).
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != Closed {
		cb.transitionTo(Closed)
	} else {
		cb.failures = 0
		cb.successes = 0
	}
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:           cb.State().String(),
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

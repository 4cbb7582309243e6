package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by Execute while the circuit refuses calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int32

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

// CircuitBreaker provides fast-fail behavior when a dependency fails repeatedly
type CircuitBreaker struct {
	name             string
	state            atomic.Int32
	failureCount     atomic.Int32
	successCount     atomic.Int32
	openedAt         atomic.Int64 // unix nanos
	failureThreshold int32
	successThreshold int32
	timeout          time.Duration
	now              func() time.Time

	mu            sync.RWMutex
	onStateChange func(name string, from, to State)
}

// NewCircuitBreaker creates a new circuit breaker. It opens after
// failureThreshold consecutive failures, lets one trial call through once timeout
// has passed, and closes again after successThreshold trial successes.
func NewCircuitBreaker(name string, failureThreshold, successThreshold int32, timeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
		onStateChange:    func(string, State, State) {},
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

// Name identifies the protected dependency.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// SetStateChangeCallback registers a callback for state transitions
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.AllowRequest() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// RecordSuccess increments success counter and attempts half-open -> closed transition
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.GetState() {
	case StateHalfOpen:
		if cb.successCount.Add(1) >= cb.successThreshold {
			cb.reset(StateClosed)
		}
	case StateClosed:
		cb.failureCount.Store(0)
	}
}

// RecordFailure increments failure counter and may trip open or stay open
func (cb *CircuitBreaker) RecordFailure() {
	switch cb.GetState() {
	case StateClosed:
		if cb.failureCount.Add(1) >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

// AllowRequest returns true if the circuit allows a request
func (cb *CircuitBreaker) AllowRequest() bool {
	if cb.GetState() != StateOpen {
		return true
	}
	opened := time.Unix(0, cb.openedAt.Load())
	if cb.now().Sub(opened) > cb.timeout {
		cb.reset(StateHalfOpen)
		return true
	}
	return false
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	return State(cb.state.Load())
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt.Store(cb.now().UnixNano())
	cb.reset(StateOpen)
}

func (cb *CircuitBreaker) reset(to State) {
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	cb.setState(to)
}

// setState transitions to a new state and calls the callback
func (cb *CircuitBreaker) setState(newState State) {
	oldState := State(cb.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	cb.mu.RLock()
	fn := cb.onStateChange
	cb.mu.RUnlock()
	if fn != nil {
		fn(cb.name, oldState, newState)
	}
}

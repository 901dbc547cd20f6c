package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed lets frames through
	StateClosed CircuitBreakerState = 0

	// StateOpen rejects frames without sending them
	StateOpen CircuitBreakerState = 1

	// StateHalfOpen lets frames through to test whether the platform recovered
	StateHalfOpen CircuitBreakerState = 2
)

// halfOpenSuccesses closes a half-open circuit.
const halfOpenSuccesses = 5

// CircuitBreaker opens after a run of consecutive failed frames
type CircuitBreaker struct {
	state                int32 // atomic: CircuitBreakerState
	consecutiveFailures  int64 // atomic
	consecutiveSuccesses int64 // atomic
	failureThreshold     int64
	resetTimeout         time.Duration
	lastFailureTime      int64 // atomic: Unix nano timestamp
	mu                   sync.Mutex
	now                  func() time.Time
}

// NewCircuitBreaker creates a breaker; non-positive arguments use 10 failures
// and 30 seconds.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// IsOpen reports whether frames are currently rejected. An open breaker moves
// to half-open once the reset timeout elapsed since the last failure.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.GetState() != StateOpen {
		return false
	}
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	if lastFailure > 0 && cb.now().Sub(time.Unix(0, lastFailure)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful frame
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.consecutiveFailures, 0)

	if cb.GetState() == StateHalfOpen {
		if atomic.AddInt64(&cb.consecutiveSuccesses, 1) >= halfOpenSuccesses {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed frame
func (cb *CircuitBreaker) RecordFailure() {
	state := cb.GetState()

	atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt64(&cb.lastFailureTime, cb.now().UnixNano())
	failures := atomic.AddInt64(&cb.consecutiveFailures, 1)

	switch {
	case state == StateClosed && failures >= cb.failureThreshold:
		cb.transitionTo(StateOpen)
	case state == StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) GetConsecutiveFailures() int64 {
	return atomic.LoadInt64(&cb.consecutiveFailures)
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	atomic.StoreInt64(&cb.consecutiveFailures, 0)
	atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt64(&cb.lastFailureTime, 0)
}

func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) == newState {
		return
	}
	atomic.StoreInt32(&cb.state, int32(newState))

	switch newState {
	case StateClosed:
		atomic.StoreInt64(&cb.consecutiveFailures, 0)
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	}
}

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

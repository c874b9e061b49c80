package resilience

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// State is one of the three circuit-breaker phases.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreakerPolicy configures the failure/success thresholds and
// the cool-down before an open breaker tries a probe request.
type CircuitBreakerPolicy struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

var DefaultCircuitBreakerPolicy = CircuitBreakerPolicy{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	ResetTimeout:     30 * time.Second,
}

// CircuitBreaker is a pure state machine guarding one resilience scope
// (a storage source, the edge cache writer, ...). Mutable fields use
// go.uber.org/atomic so hot-path reads (Allow) never block on a lock;
// the rare read-modify-write transitions take a short mutex.
type CircuitBreaker struct {
	policy CircuitBreakerPolicy

	mu                   sync.Mutex
	isOpen               atomic.Bool
	failureCount         atomic.Int64
	successCount         atomic.Int64
	consecutiveSuccesses atomic.Int64
	lastFailureTime      atomic.Int64
	resetAt              atomic.Int64
	halfOpen             atomic.Bool
}

func NewCircuitBreaker(policy CircuitBreakerPolicy) *CircuitBreaker {
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = DefaultCircuitBreakerPolicy.FailureThreshold
	}
	if policy.SuccessThreshold <= 0 {
		policy.SuccessThreshold = DefaultCircuitBreakerPolicy.SuccessThreshold
	}
	if policy.ResetTimeout <= 0 {
		policy.ResetTimeout = DefaultCircuitBreakerPolicy.ResetTimeout
	}
	return &CircuitBreaker{policy: policy}
}

// Allow reports whether a call may proceed. An open breaker whose
// reset deadline has passed transitions to half-open and allows a
// single probe through.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.isOpen.Load() {
		return true
	}

	if time.Now().UnixNano() < cb.resetAt.Load() {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isOpen.Load() {
		return true
	}
	if time.Now().UnixNano() < cb.resetAt.Load() {
		return false
	}

	cb.halfOpen.Store(true)
	return true
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount.Inc()

	if cb.halfOpen.Load() {
		n := cb.consecutiveSuccesses.Inc()
		if n >= int64(cb.policy.SuccessThreshold) {
			cb.reset()
		}
		return
	}

	cb.failureCount.Store(0)
}

// RecordFailure registers a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime.Store(time.Now().UnixNano())

	if cb.halfOpen.Load() {
		cb.trip()
		return
	}

	n := cb.failureCount.Inc()
	if n >= int64(cb.policy.FailureThreshold) {
		cb.trip()
	}
}

// trip must be called with mu held.
func (cb *CircuitBreaker) trip() {
	cb.isOpen.Store(true)
	cb.halfOpen.Store(false)
	cb.consecutiveSuccesses.Store(0)
	cb.resetAt.Store(time.Now().Add(cb.policy.ResetTimeout).UnixNano())
}

// reset must be called with mu held.
func (cb *CircuitBreaker) reset() {
	cb.isOpen.Store(false)
	cb.halfOpen.Store(false)
	cb.failureCount.Store(0)
	cb.consecutiveSuccesses.Store(0)
}

// State reports the breaker's current phase for diagnostics.
func (cb *CircuitBreaker) State() State {
	switch {
	case !cb.isOpen.Load():
		return StateClosed
	case cb.halfOpen.Load():
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// IsOpen reports the raw open flag, ignoring whether the reset
// deadline has already elapsed. Callers deciding whether to attempt a
// call should use Allow instead.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.isOpen.Load()
}

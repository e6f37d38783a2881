// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means calls flow normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means calls are rejected without invoking the operation.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means a limited number of trial calls are allowed.
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreakerStatus is a read-only snapshot for introspection.
type CircuitBreakerStatus struct {
	Key                 string
	State               CircuitBreakerState
	FailureCount        int
	SuccessCount        int
	FailureThreshold    int
	HalfOpenMaxAttempts int
	LastFailureTime     time.Time
	NextRetryTime       time.Time
}

// circuitBreaker guards one component:tool key. Created lazily by the
// orchestrator and kept for the process lifetime.
type circuitBreaker struct {
	mu                  sync.Mutex
	key                 string
	state               CircuitBreakerState
	failureCount        int
	successCount        int
	failureThreshold    int
	halfOpenMaxAttempts int
	cooldown            time.Duration
	lastFailureTime     time.Time
	nextRetryTime       time.Time
	onTransition        func(key string, from, to CircuitBreakerState)
	now                 func() time.Time
}

func newCircuitBreaker(key string, threshold int, cooldown time.Duration, halfOpenMax int, now func() time.Time, onTransition func(string, CircuitBreakerState, CircuitBreakerState)) *circuitBreaker {
	if threshold < 1 {
		threshold = 5
	}
	if halfOpenMax < 1 {
		halfOpenMax = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &circuitBreaker{
		key:                 key,
		state:               StateClosed,
		failureThreshold:    threshold,
		halfOpenMaxAttempts: halfOpenMax,
		cooldown:            cooldown,
		onTransition:        onTransition,
		now:                 now,
	}
}

// allow reports whether a call may proceed. While OPEN it rejects until
// the cooldown elapses, at which point the breaker moves to HALF_OPEN
// and the call is admitted.
func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Before(cb.nextRetryTime) {
		return false
	}
	cb.transition(StateHalfOpen)
	cb.successCount = 0
	return true
}

// recordSuccess updates counters after a successful call. In HALF_OPEN,
// enough consecutive successes close the breaker and zero the failure
// count. In CLOSED, each success decrements the failure count by one,
// floored at zero.
func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxAttempts {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
}

// recordFailure updates counters after a failed call and reports whether
// the breaker tripped OPEN as a result. Severe failures trip at half the
// threshold. A failure in HALF_OPEN reopens immediately with a fresh
// cooldown window.
func (cb *circuitBreaker) recordFailure(severe bool) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen {
		cb.open()
		return true
	}

	threshold := cb.failureThreshold
	if severe {
		threshold = (cb.failureThreshold + 1) / 2
	}
	if cb.state == StateClosed && cb.failureCount >= threshold {
		cb.open()
		return true
	}
	return false
}

// open must be called under lock.
func (cb *circuitBreaker) open() {
	cb.transition(StateOpen)
	cb.successCount = 0
	cb.nextRetryTime = cb.now().Add(cb.cooldown)
}

// transition must be called under lock.
func (cb *circuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onTransition != nil {
		cb.onTransition(cb.key, from, to)
	}
}

// reset forces the breaker CLOSED with counters zeroed, for operator
// intervention.
func (cb *circuitBreaker) reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.nextRetryTime = time.Time{}
}

// status returns a point-in-time snapshot.
func (cb *circuitBreaker) status() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStatus{
		Key:                 cb.key,
		State:               cb.state,
		FailureCount:        cb.failureCount,
		SuccessCount:        cb.successCount,
		FailureThreshold:    cb.failureThreshold,
		HalfOpenMaxAttempts: cb.halfOpenMaxAttempts,
		LastFailureTime:     cb.lastFailureTime,
		NextRetryTime:       cb.nextRetryTime,
	}
}

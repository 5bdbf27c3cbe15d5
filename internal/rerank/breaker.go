package rerank

import (
	"sync"
	"time"
)

// BreakerState labels the circuit breaker's position in its state machine.
type BreakerState string

// Breaker states.
const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// Breaker is a per-provider circuit breaker.
//
// State machine: closed (normal) → open once failures reach the threshold
// (calls short-circuited) → half-open after the reset window elapses (the
// next call is a live trial) → closed on trial success, open again on
// failure.
//
// Breaker is safe for concurrent use. It is operational, in-process state:
// constructed per orchestrator instance, reset on process restart.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool

	threshold   int
	resetWindow time.Duration
	now         func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(threshold int, resetWindow time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if resetWindow <= 0 {
		resetWindow = time.Minute
	}
	return &Breaker{
		threshold:   threshold,
		resetWindow: resetWindow,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// reset window has elapsed, the call is allowed as a half-open trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	return b.now().Sub(b.lastFailure) > b.resetWindow
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure counts a failure, opening the breaker at the threshold.
// A failed half-open trial reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return StateClosed
	}
	if b.now().Sub(b.lastFailure) > b.resetWindow {
		return StateHalfOpen
	}
	return StateOpen
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

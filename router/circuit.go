// Package router selects a working LLM provider for each chat request. It
// orders one primary provider ahead of prioritized backups and gates each
// candidate behind a per-provider circuit breaker, so the loop sees a single
// fallible "ask the model" operation with bounded, observable degradation.
package router

import (
	"sync"
	"time"
)

// BreakerState is the observable state of a circuit breaker. HalfOpen is
// derived, never stored: once the recovery timeout elapses the breaker
// permits a trial execution even though the failure counter still stands.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens
	// a breaker.
	DefaultFailureThreshold = 3

	// DefaultRecoveryTimeout is how long an open breaker rejects requests
	// before permitting a trial execution.
	DefaultRecoveryTimeout = 30 * time.Second
)

// CircuitBreaker tracks consecutive failures for one provider. Shared by
// all requests to that provider within the process; safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	lastFailureTime     time.Time

	// Failure rate is tracked for observability only, never for the
	// open/closed decision.
	totalRequests  int64
	failedRequests int64
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive-failure count that opens the
// breaker.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *CircuitBreaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the breaker rejects requests after the
// last failure before permitting a trial execution.
func WithRecoveryTimeout(d time.Duration) BreakerOption {
	return func(b *CircuitBreaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// NewCircuitBreaker creates a breaker for the named provider.
func NewCircuitBreaker(name string, options ...BreakerOption) *CircuitBreaker {
	breaker := &CircuitBreaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
	}

	for _, opt := range options {
		opt(breaker)
	}

	return breaker
}

// RecordSuccess fully closes the breaker. A single success resets the
// consecutive-failure count; there is no gradual half-open probing.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.consecutiveFailures = 0
}

// RecordFailure counts one failure and stamps its time.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.failedRequests++
	b.consecutiveFailures++
	b.lastFailureTime = time.Now()
}

// CanExecute reports whether a request may be routed to the provider. The
// breaker rejects only while the failure count is at or above the threshold
// and the recovery timeout since the last failure has not yet elapsed; once
// it elapses the breaker self-resets to a permissive state and the next
// recorded success resets the counter formally.
func (b *CircuitBreaker) CanExecute() bool {
	return b.State() != StateOpen
}

// State derives the breaker state from the failure counter and the clock.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consecutiveFailures < b.failureThreshold {
		return StateClosed
	}
	if time.Since(b.lastFailureTime) < b.recoveryTimeout {
		return StateOpen
	}
	return StateHalfOpen
}

// FailureRate returns failed/total requests for observability.
func (b *CircuitBreaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.totalRequests == 0 {
		return 0
	}
	return float64(b.failedRequests) / float64(b.totalRequests)
}

// Health is a point-in-time snapshot of the breaker for reporting.
type Health struct {
	Name                string        `json:"name"`
	State               BreakerState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureTime     *time.Time    `json:"last_failure_time,omitempty"`
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout"`
	TotalRequests       int64         `json:"total_requests"`
	FailedRequests      int64         `json:"failed_requests"`
}

// Health snapshots the breaker.
func (b *CircuitBreaker) Health() Health {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	health := Health{
		Name:                b.name,
		State:               state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.failureThreshold,
		RecoveryTimeout:     b.recoveryTimeout,
		TotalRequests:       b.totalRequests,
		FailedRequests:      b.failedRequests,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		health.LastFailureTime = &t
	}

	return health
}

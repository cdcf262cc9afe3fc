package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// CircuitState is the model breaker's view of the model
type CircuitState int

const (
	// CircuitClosed lets model calls through
	CircuitClosed CircuitState = iota
	// CircuitOpen sends every model step straight to its fallback
	CircuitOpen
	// CircuitHalfOpen lets one probe call through after the cool-down
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// errBreakerOpen is recorded when a step is skipped because the model was
// already found unreachable during this request
var errBreakerOpen = fmt.Errorf("%w: circuit breaker open", domain.ErrModelUnavailable)

// CircuitBreaker tracks model reachability for one request so that once the
// model has failed threshold times in a row, the remaining steps take their
// fallbacks without waiting out another call timeout. A breaker belongs to a
// single Run and is not safe for concurrent use.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state    CircuitState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker. threshold below 1 defaults to
// 2, cooldown <= 0 to one minute.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 2
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Record feeds the result of a model step into the breaker. Only
// ErrModelUnavailable counts as a failure: unparsable output proves the model
// answered, and skipped calls teach nothing.
func (cb *CircuitBreaker) Record(err error) {
	switch {
	case errors.Is(err, errBreakerOpen):
	case errors.Is(err, domain.ErrModelUnavailable):
		cb.RecordFailure()
	default:
		cb.state, cb.failures = CircuitClosed, 0
	}
}

// RecordFailure counts one unreachable-model failure. A failed probe reopens
// the breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// CanExecute reports whether the next model call should be attempted
func (cb *CircuitBreaker) CanExecute() bool {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.state = CircuitHalfOpen
	}
	return cb.state != CircuitOpen
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitState {
	return cb.state
}

// Reset closes the breaker and forgets past failures
func (cb *CircuitBreaker) Reset() {
	cb.state, cb.failures, cb.openedAt = CircuitClosed, 0, time.Time{}
}

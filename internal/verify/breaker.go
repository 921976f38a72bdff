package verify

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a circuit breaker shared by all verification calls made through
// one client. It is owned by the client instance rather than being process
// global, so its lifecycle ends with the client's.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	reset       time.Duration
	failures    int
	lastFailure time.Time
	state       BreakerState

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a closed breaker that opens after threshold consecutive
// failures and stays open for reset before probing again
func NewBreaker(threshold int, reset time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{threshold: threshold, reset: reset, now: time.Now}
}

// Allow reports whether a call may proceed. While open it short-circuits
// everything until the reset window has elapsed, then lets exactly one probe
// through in half-open state; that probe's outcome decides what happens next.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		// A probe is already in flight
		return false
	default:
		if b.now().Sub(b.lastFailure) >= b.reset {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and clears the failure count
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failure; at the threshold (or on a failed half-open
// probe) the breaker opens
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

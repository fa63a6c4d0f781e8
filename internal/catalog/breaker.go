package catalog

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed indicates the circuit is closed (normal operation)
	StateClosed CircuitState = iota
	// StateOpen indicates the circuit is open (blocking calls)
	StateOpen
	// StateHalfOpen indicates one trial call is allowed through
	StateHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
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

// Default breaker settings
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// ErrCircuitOpen indicates the media service is being skipped after repeated failures
var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsCircuitOpen checks if the error came from an open breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// Breaker stops calling the media-detail service after repeated failures
// so that every session does not pay the full retry budget during an outage.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	clock            clockwork.Clock

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time
	trialInFlight   bool
}

// NewBreaker creates a breaker. Zero values select the defaults.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, clock clockwork.Clock) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		clock:            clock,
		state:            StateClosed,
	}
}

// Call executes fn if the breaker allows it. Context cancellation is not
// counted as a failure.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	b.refreshLocked()
	if b.state == StateOpen || (b.state == StateHalfOpen && b.trialInFlight) {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	trial := b.state == StateHalfOpen
	if trial {
		b.trialInFlight = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialInFlight = false
	}

	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case isCancellation(err):
	default:
		b.failures++
		b.lastFailureTime = b.clock.Now()
		if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
			b.state = StateOpen
		}
	}
	return err
}

// State returns the current state, moving Open to HalfOpen once the reset
// timeout has elapsed
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailureTime = time.Time{}
	b.trialInFlight = false
}

// refreshLocked must be called with mu held
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.clock.Since(b.lastFailureTime) >= b.resetTimeout {
		b.state = StateHalfOpen
	}
}

package llm

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker (default 5).
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a trial call (default 60s).
	Cooldown time.Duration
	// OnStateChange, when set, is called outside the lock after every transition.
	OnStateChange func(from, to BreakerState)
}

// CircuitBreaker tracks consecutive failures of one completion endpoint.
// After FailureThreshold failures it rejects calls until Cooldown has passed,
// then admits a single trial call whose outcome closes or re-opens it.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openUntil           time.Time
	trialInFlight       bool
}

type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now; tests use it to step past the cool-down.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed. Every nil return must be followed
// by exactly one of Success, Failure or Abandon.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var from, to BreakerState
	changed := false
	defer func() {
		cb.mu.Unlock()
		if changed {
			cb.notify(from, to)
		}
	}()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		from, to, changed = BreakerOpen, BreakerHalfOpen, true
		cb.state = BreakerHalfOpen
		cb.trialInFlight = true
		return nil
	default:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	from := cb.state
	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
	cb.openUntil = time.Time{}
	cb.trialInFlight = false
	cb.mu.Unlock()
	if from != BreakerClosed {
		cb.notify(from, BreakerClosed)
	}
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	from := cb.state
	cb.consecutiveFailures++
	cb.trialInFlight = false
	open := from == BreakerHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold
	if open {
		cb.state = BreakerOpen
		cb.openUntil = cb.now().Add(cb.cfg.Cooldown)
	}
	cb.mu.Unlock()
	if open && from != BreakerOpen {
		cb.notify(from, BreakerOpen)
	}
}

// Abandon releases an admitted call that ended without a verdict, such as a
// caller cancellation.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	cb.trialInFlight = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// OpenUntil is the zero time unless the breaker is open.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openUntil
}

func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

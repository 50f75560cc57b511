// Package circuitbreaker isolates failing backends from healthy ones.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing backend health
	// with a single trial call.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker tracks the health of a single backend. A closed breaker
// counts failures, decrementing the count on each success, and trips
// open when the count reaches the configured threshold. An open
// breaker rejects calls until the recovery timeout elapses, then
// admits one probe; the probe's outcome decides between closing and
// re-opening.
type Breaker struct {
	backend          string
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           observability.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	nextAttempt  time.Time
	probing      bool

	successes      int64
	failures       int64
	shortCircuits  int64
	lastFailure    time.Time
	lastTransition time.Time
}

// New creates a breaker for a backend.
func New(backend string, cfg *config.BreakerConfig, logger observability.Logger) *Breaker {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Breaker{
		backend:          backend,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout.Duration(),
		logger:           logger,
		state:            StateClosed,
		lastTransition:   time.Now(),
	}
}

// Execute runs fn under breaker protection. When the breaker is open
// it returns a CircuitOpenError without invoking fn; otherwise fn's
// outcome is recorded and its error returned unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}

	return err
}

// allow admits or rejects a call, transitioning OPEN to HALF_OPEN
// when the recovery timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Before(b.nextAttempt) {
			b.shortCircuits++
			getBreakerMetrics().shortCircuitsTotal.WithLabelValues(b.backend).Inc()
			return util.NewCircuitOpenError(b.backend, b.nextAttempt)
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return nil

	case StateHalfOpen:
		if b.probing {
			b.shortCircuits++
			getBreakerMetrics().shortCircuitsTotal.WithLabelValues(b.backend).Inc()
			return util.NewCircuitOpenError(b.backend, b.nextAttempt)
		}
		b.probing = true
		return nil

	default:
		return util.NewCircuitOpenError(b.backend, b.nextAttempt)
	}
}

// recordSuccess notes a successful call. In the closed state the
// failure count decays by one per success; a half-open probe success
// closes the circuit.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	getBreakerMetrics().successesTotal.WithLabelValues(b.backend).Inc()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}

	case StateHalfOpen:
		b.failureCount = 0
		b.probing = false
		b.transitionTo(StateClosed)
	}
}

// recordFailure notes a failed call, tripping the breaker when the
// threshold is reached. A half-open probe failure re-opens the
// circuit for another full recovery timeout.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	getBreakerMetrics().failuresTotal.WithLabelValues(b.backend).Inc()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.trip()
		}

	case StateHalfOpen:
		b.probing = false
		b.trip()
	}
}

// trip opens the circuit. Must be called with lock held.
func (b *Breaker) trip() {
	b.nextAttempt = time.Now().Add(b.recoveryTimeout)
	b.transitionTo(StateOpen)
	getBreakerMetrics().tripsTotal.WithLabelValues(b.backend).Inc()
}

// transitionTo moves the breaker to a new state. Must be called with
// lock held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState
	b.lastTransition = time.Now()

	getBreakerMetrics().stateGauge.WithLabelValues(b.backend).Set(float64(newState))

	b.logger.Info("circuit breaker state changed",
		observability.String("backend", b.backend),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
		observability.Int("failureCount", b.failureCount),
	)
}

// State returns the current state, applying the OPEN to HALF_OPEN
// transition when the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !time.Now().Before(b.nextAttempt) {
		return StateHalfOpen
	}
	return b.state
}

// Backend returns the backend this breaker guards.
func (b *Breaker) Backend() string {
	return b.backend
}

// Reset returns the breaker to the closed state with all counts
// cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}

	b.logger.Info("circuit breaker reset",
		observability.String("backend", b.backend),
	)
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Backend        string    `json:"backend"`
	State          string    `json:"state"`
	FailureCount   int       `json:"failureCount"`
	Successes      int64     `json:"successes"`
	Failures       int64     `json:"failures"`
	ShortCircuits  int64     `json:"shortCircuits"`
	LastFailure    time.Time `json:"lastFailure,omitempty"`
	LastTransition time.Time `json:"lastTransition"`
	NextAttempt    time.Time `json:"nextAttempt,omitempty"`
}

// Snapshot returns the breaker's current counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && !time.Now().Before(b.nextAttempt) {
		state = StateHalfOpen
	}

	return Snapshot{
		Backend:        b.backend,
		State:          state.String(),
		FailureCount:   b.failureCount,
		Successes:      b.successes,
		Failures:       b.failures,
		ShortCircuits:  b.shortCircuits,
		LastFailure:    b.lastFailure,
		LastTransition: b.lastTransition,
		NextAttempt:    b.nextAttempt,
	}
}

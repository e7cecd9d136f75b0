// Package breaker implements the circuit-breaker + exponential-backoff RPC
// client (spec.md §4.3), used by the camera RPC path. The ordering pipeline
// uses only this package's AvailabilityCache, for its external-login check;
// its store calls do not go through a Breaker.
package breaker

import (
	"sync"
	"time"

	"github.com/homestead-systems/assistant-core/internal/telemetry"
)

// State is the breaker's tagged lifecycle state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call short-circuits without contacting
// the dependency.
type ErrCircuitOpen struct{ Dependency string }

func (e *ErrCircuitOpen) Error() string { return "breaker: circuit open for " + e.Dependency }

// Breaker guards calls to a single named dependency.
type Breaker struct {
	mu sync.Mutex

	name      string
	threshold int
	cooldown  time.Duration

	state            State
	consecutiveFails int
	openedAt         time.Time
}

// New creates a Breaker in the Closed state.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	b := &Breaker{name: name, threshold: threshold, cooldown: cooldown, state: Closed}
	telemetry.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// State returns the breaker's current state, transitioning Open -> HalfOpen
// automatically once the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		b.state = HalfOpen
		telemetry.CircuitBreakerState.WithLabelValues(b.name).Set(float64(HalfOpen))
	}
	return b.state
}

// Allow reports whether a call may proceed. When false, the caller must
// return ErrCircuitOpen without contacting the dependency.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != Open
}

// RecordSuccess closes the breaker (from Closed or HalfOpen) and resets the
// failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	if b.state != Closed {
		b.state = Closed
		telemetry.CircuitBreakerState.WithLabelValues(b.name).Set(float64(Closed))
	}
}

// RecordFailure advances the failure counter. In HalfOpen, a single failure
// reopens the breaker. In Closed, N consecutive failures open it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	telemetry.CircuitBreakerState.WithLabelValues(b.name).Set(float64(Open))
}

// Call runs fn, guarded by the breaker: short-circuits with ErrCircuitOpen
// when Open, otherwise invokes fn and records the outcome.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		telemetry.BreakerCallsTotal.WithLabelValues(b.name, "short_circuited").Inc()
		return &ErrCircuitOpen{Dependency: b.name}
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		telemetry.BreakerCallsTotal.WithLabelValues(b.name, "failure").Inc()
		return err
	}
	b.RecordSuccess()
	telemetry.BreakerCallsTotal.WithLabelValues(b.name, "success").Inc()
	return nil
}

// Package resilience keeps the bot speaking when a speech backend fails.
//
// Every backend sits behind a [CircuitBreaker]. After a run of consecutive
// synthesis failures the breaker opens and requests fail fast with
// [ErrCircuitOpen] instead of waiting out another Azure timeout. Once the
// reset timeout passes, a limited number of probe requests decide whether
// the backend is back. [SynthesizerFallback] chains several backends, for
// example Azure resources in different regions, and tries them in order.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open or all half-open probe slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Breaker defaults, applied to zero-valued config fields.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks, usually the Azure
	// region of the backend.
	Name string

	// MaxFailures is the failure streak that opens a closed breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of probes admitted in half-open state
	// and the number of successful probes needed to close again.
	HalfOpenMax int

	// IsFailure reports whether err counts against the backend. Nil counts
	// everything except context cancellation, so a shutdown in the middle
	// of a synthesis does not trip the breaker.
	IsFailure func(error) bool

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now. Tests use it to move past ResetTimeout.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = DefaultHalfOpenMax
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// transition is a state change waiting to be reported.
type transition struct {
	from, to State
}

// CircuitBreaker guards one speech backend. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	probes   int
	passed   int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects it and books the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and reports whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var ev *transition
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		ev = cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			cb.report(ev)
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	cb.mu.Unlock()
	cb.report(ev)
	return probe, nil
}

// settle books the result of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	// A probe that outlived its half-open window counts as a regular call.
	probe = probe && cb.state == StateHalfOpen
	var ev *transition
	switch {
	case err == nil && probe:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			ev = cb.moveTo(StateClosed)
		}
	case err == nil:
		cb.streak = 0
	case !cb.cfg.IsFailure(err):
		if probe {
			cb.probes--
		}
	case probe:
		ev = cb.moveTo(StateOpen)
	default:
		cb.streak++
		if cb.streak >= cb.cfg.MaxFailures {
			ev = cb.moveTo(StateOpen)
		}
	}
	cb.mu.Unlock()
	cb.report(ev)
}

// moveTo switches state and resets the counters of the new state. It must
// be called with cb.mu held.
func (cb *CircuitBreaker) moveTo(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateClosed:
		cb.streak = 0
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) report(ev *transition) {
	if ev == nil {
		return
	}
	if ev.to == StateOpen {
		slog.Warn("resilience: breaker opened", "backend", cb.cfg.Name, "from", ev.from.String(), "retry_in", cb.cfg.ResetTimeout)
	} else {
		slog.Info("resilience: breaker state changed", "backend", cb.cfg.Name, "from", ev.from.String(), "to", ev.to.String())
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, ev.from, ev.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	ev := cb.moveTo(StateClosed)
	cb.streak = 0
	cb.mu.Unlock()
	cb.report(ev)
}

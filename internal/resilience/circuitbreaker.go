// Package resilience keeps the refinement stages responsive when their
// backends die. The alignment/diarization sidecar and the correction LLM
// are network services that fail in slow ways; a [CircuitBreaker] in front
// of each ([Aligner], [Diarizer], [Corrector]) turns a dead backend into an
// instant [ErrCircuitOpen], which the pipeline's degradation ladder absorbs:
// the recognizer's boundaries stand, the default speaker is applied, the
// uncorrected transcript ships. Buffers keep flowing instead of queueing
// behind timeouts.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls without forwarding them.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls to decide
	// whether the backend has recovered.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. The defaults assume the
// breaker fronts a per-buffer pipeline stage, where one call arrives every
// few seconds of speech.
type CircuitBreakerConfig struct {
	// Name labels the wrapped backend in log lines.
	Name string

	// MaxFailures is the run of consecutive failures that opens the
	// breaker. Default: 3, three straight degraded buffers.
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects calls before
	// probing the backend again. Default: 15s, a couple of buffers of
	// backoff.
	ResetTimeout time.Duration

	// HalfOpenMax is how many probe calls the half-open state admits
	// before the breaker decides to close or re-open. Default: 2.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker (closed, open, half-open) guarding
// one refinement backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int // consecutive failures while closed
	lastFailure   time.Time
	probes        int // calls admitted in the current half-open round
	probeFailures int
}

// NewCircuitBreaker creates a breaker from cfg, filling zero fields with the
// per-buffer defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 15 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &CircuitBreaker{
		cfg: cfg,
		log: slog.Default().With("breaker", cfg.Name),
	}
}

// Execute runs fn unless the breaker is open. An open breaker whose reset
// timeout has elapsed moves to half-open first; a half-open breaker admits
// at most HalfOpenMax probe calls.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFailures = 0
		cb.log.Info("circuit breaker probing backend")

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probing := cb.state == StateHalfOpen
	if probing {
		cb.probes++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// onFailure updates failure accounting. Callers must hold cb.mu.
func (cb *CircuitBreaker) onFailure(probing bool) {
	cb.lastFailure = time.Now()

	if probing {
		// One failed probe re-opens immediately.
		cb.probeFailures++
		cb.state = StateOpen
		cb.failures = cb.cfg.MaxFailures
		cb.log.Warn("circuit breaker re-opened, backend still failing")
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		cb.state = StateOpen
		cb.log.Warn("circuit breaker opened",
			"consecutive_failures", cb.failures)
	}
}

// onSuccess updates success accounting. Callers must hold cb.mu.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if probing {
		if cb.probes-cb.probeFailures >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.log.Info("circuit breaker closed, backend recovered")
		}
		return
	}
	cb.failures = 0
}

// State returns the breaker's current [State]. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the actual transition happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed, clearing all failure accounting.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFailures = 0
	cb.log.Info("circuit breaker reset")
}

package resilience

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/types"
)

// Corrector wraps a [correct.Corrector] with a circuit breaker. While the
// breaker is open every call fails fast with [ErrCircuitOpen], which the
// pipeline treats like any correction failure: the uncorrected transcript
// ships.
type Corrector struct {
	inner   correct.Corrector
	breaker *CircuitBreaker
}

// NewCorrector wraps inner with a breaker configured by cfg.
func NewCorrector(inner correct.Corrector, cfg CircuitBreakerConfig) *Corrector {
	if cfg.Name == "" {
		cfg.Name = "corrector"
	}
	return &Corrector{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Correct forwards to the wrapped corrector if the breaker allows it.
func (c *Corrector) Correct(ctx context.Context, text string, segments []types.Segment) (correct.Output, error) {
	var out correct.Output
	err := c.breaker.Execute(func() error {
		var err error
		out, err = c.inner.Correct(ctx, text, segments)
		return err
	})
	return out, err
}

// Aligner wraps an [align.Aligner] with a circuit breaker. An open breaker
// degrades the pipeline to the recognizer's segment boundaries.
type Aligner struct {
	inner   align.Aligner
	breaker *CircuitBreaker
}

// NewAligner wraps inner with a breaker configured by cfg.
func NewAligner(inner align.Aligner, cfg CircuitBreakerConfig) *Aligner {
	if cfg.Name == "" {
		cfg.Name = "aligner"
	}
	return &Aligner{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Align forwards to the wrapped aligner if the breaker allows it.
func (a *Aligner) Align(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	var out []types.Segment
	err := a.breaker.Execute(func() error {
		var err error
		out, err = a.inner.Align(ctx, segments, samples)
		return err
	})
	return out, err
}

// Diarizer wraps a [diarize.Diarizer] with a circuit breaker. An open
// breaker degrades the pipeline to the default speaker label.
type Diarizer struct {
	inner   diarize.Diarizer
	breaker *CircuitBreaker
}

// NewDiarizer wraps inner with a breaker configured by cfg.
func NewDiarizer(inner diarize.Diarizer, cfg CircuitBreakerConfig) *Diarizer {
	if cfg.Name == "" {
		cfg.Name = "diarizer"
	}
	return &Diarizer{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Diarize forwards to the wrapped diarizer if the breaker allows it.
func (d *Diarizer) Diarize(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	var out []types.Segment
	err := d.breaker.Execute(func() error {
		var err error
		out, err = d.inner.Diarize(ctx, segments, samples)
		return err
	})
	return out, err
}

var (
	_ correct.Corrector = (*Corrector)(nil)
	_ align.Aligner     = (*Aligner)(nil)
	_ diarize.Diarizer  = (*Diarizer)(nil)
)

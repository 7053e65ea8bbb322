// Package gpu serializes GPU inference and supervises recovery from memory
// exhaustion.
//
// All model stages run through a single [Supervisor] slot, so at most one
// inference touches the GPU at a time regardless of how many sessions are
// streaming. When a stage reports an out-of-memory failure, the supervisor
// logs its memory accounting, asks every registered cache holder to release
// GPU memory, and returns the error so the caller skips the buffer and the
// stream continues.
package gpu

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/pkg/capability"
)

// Stats is a snapshot of the supervisor's accounting, exposed on /health.
type Stats struct {
	// InFlightBytes is the payload size of the stage currently holding the
	// slot, zero when idle.
	InFlightBytes int64 `json:"in_flight_bytes"`

	// PeakBytes is the largest payload ever submitted.
	PeakBytes int64 `json:"peak_bytes"`

	// Waiting is the number of stages queued for the slot.
	Waiting int `json:"waiting"`

	// OOMCount is the total number of out-of-memory events observed.
	OOMCount int64 `json:"oom_count"`

	// LastOOM is the time of the most recent out-of-memory event, zero if
	// none occurred.
	LastOOM time.Time `json:"last_oom,omitzero"`
}

// Option is a functional option for configuring a Supervisor.
type Option func(*Supervisor)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) { s.met = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// Supervisor owns the single GPU inference slot. It is safe for concurrent
// use.
type Supervisor struct {
	slot chan struct{}
	met  *observe.Metrics
	log  *slog.Logger

	mu        sync.Mutex
	releasers []capability.CacheReleaser
	inFlight  int64
	peak      int64
	waiting   int
	oomCount  int64
	lastOOM   time.Time
}

// NewSupervisor creates a Supervisor with a free inference slot.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		slot: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// RegisterReleaser adds a cache holder to notify after an out-of-memory
// event.
func (s *Supervisor) RegisterReleaser(r capability.CacheReleaser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasers = append(s.releasers, r)
}

// Do runs fn while holding the inference slot. payloadBytes is the size of
// the audio being processed, used for memory accounting. The wait for the
// slot honours ctx; fn receives the same ctx.
//
// An out-of-memory error from fn triggers cache release before the error is
// returned. All other errors pass through untouched.
func (s *Supervisor) Do(ctx context.Context, stage string, payloadBytes int, fn func(context.Context) error) error {
	s.mu.Lock()
	s.waiting++
	s.mu.Unlock()

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		s.waiting--
		s.mu.Unlock()
		return ctx.Err()
	}

	s.mu.Lock()
	s.waiting--
	s.inFlight = int64(payloadBytes)
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	start := time.Now()
	err := fn(ctx)
	s.met.RecordStage(ctx, stage, time.Since(start).Seconds())

	s.mu.Lock()
	s.inFlight = 0
	s.mu.Unlock()
	<-s.slot

	if capability.IsOOM(err) {
		s.handleOOM(ctx, stage, payloadBytes)
	}
	return err
}

// Stats returns a snapshot of the supervisor's accounting.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		InFlightBytes: s.inFlight,
		PeakBytes:     s.peak,
		Waiting:       s.waiting,
		OOMCount:      s.oomCount,
		LastOOM:       s.lastOOM,
	}
}

// handleOOM records the event and asks every registered holder to drop its
// GPU caches. Release failures are logged and do not mask the original
// error.
func (s *Supervisor) handleOOM(ctx context.Context, stage string, payloadBytes int) {
	s.mu.Lock()
	s.oomCount++
	s.lastOOM = time.Now()
	releasers := make([]capability.CacheReleaser, len(s.releasers))
	copy(releasers, s.releasers)
	peak := s.peak
	s.mu.Unlock()

	s.met.GPUOOMEvents.Add(ctx, 1)
	s.log.Error("gpu out of memory, releasing caches",
		"stage", stage,
		"payload_bytes", payloadBytes,
		"peak_bytes", peak,
		"releasers", len(releasers),
	)

	// Release with a detached context: the triggering request may already
	// be cancelled, but recovery must still happen.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, r := range releasers {
		if err := r.ReleaseCache(releaseCtx); err != nil {
			s.log.Warn("cache release failed", "err", err)
		}
	}
}

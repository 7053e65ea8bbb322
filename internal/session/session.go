// Package session implements the per-connection streaming runtime: chunk
// validation, audio buffering with silence and duration flush triggers, and
// delivery of partial and final transcription results.
//
// Each WebSocket connection gets one [Session]. The session reads binary
// audio chunks, acknowledges each one, accumulates them in a [Buffer], and
// hands flushed buffers to the pipeline. Partials are delivered inline from
// the read loop; finals are computed in background goroutines so the next
// buffer can start filling immediately. A [Registry] tracks live sessions
// for the health endpoint.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/wernicke/internal/audio"
	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/internal/pipeline"
	"github.com/MrWong99/wernicke/pkg/wire"
)

// Message is one frame received from the client.
type Message struct {
	// Binary reports whether the frame was a binary WebSocket message.
	// Text frames are protocol violations and are rejected.
	Binary bool

	// Data is the frame payload.
	Data []byte
}

// Transport abstracts the WebSocket connection so the session runtime can
// be tested without a network. Receive blocks until a frame arrives or the
// connection closes; Send marshals v as one JSON text frame.
//
// Send must be safe for concurrent use: the read loop and final-delivery
// goroutines both send.
type Transport interface {
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, v any) error
}

// Config configures a [Session].
type Config struct {
	// Params describes the incoming audio. Defaults to [audio.DefaultParams].
	Params audio.Params

	// MaxBufferDuration caps a buffer before a forced flush. Defaults to 30s.
	MaxBufferDuration time.Duration

	// MinBufferDuration is the least audio a silence flush requires.
	// Defaults to 5s.
	MinBufferDuration time.Duration

	// SilenceThreshold is the trailing silence that triggers a flush.
	// Defaults to 2s.
	SilenceThreshold time.Duration

	// SilenceRMS is the full-scale RMS level below which a chunk counts as
	// silence. Defaults to 0.01.
	SilenceRMS float64

	// Now supplies the clock, for tests. Defaults to [time.Now].
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Params == (audio.Params{}) {
		c.Params = audio.DefaultParams
	}
	if c.MaxBufferDuration <= 0 {
		c.MaxBufferDuration = 30 * time.Second
	}
	if c.MinBufferDuration <= 0 {
		c.MinBufferDuration = 5 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 2 * time.Second
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 0.01
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.met = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is the streaming runtime for one client connection.
type Session struct {
	id        string
	transport Transport
	pipe      *pipeline.Pipeline
	cfg       Config
	met       *observe.Metrics
	log       *slog.Logger

	buf      *Buffer
	received int
	finals   sync.WaitGroup

	// sendMu orders result delivery: the partial for a buffer is written
	// before its final goroutine is allowed to send.
	sendMu sync.Mutex
}

// New creates a Session over the given transport and pipeline.
func New(transport Transport, pipe *pipeline.Pipeline, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		id:        uuid.NewString(),
		transport: transport,
		pipe:      pipe,
		cfg:       cfg,
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
	s.log = s.log.With("session_id", s.id)
	s.buf = NewBuffer(BufferConfig{
		Params:           cfg.Params,
		MaxDuration:      cfg.MaxBufferDuration,
		MinDuration:      cfg.MinBufferDuration,
		SilenceThreshold: cfg.SilenceThreshold,
		Now:              cfg.Now,
	})
	return s
}

// ID returns the session's unique id, generated at creation.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session until the client disconnects or ctx is cancelled.
// It sends the connection_established frame, then loops over incoming
// frames. On disconnect any buffered audio is flushed and processed, and
// Run blocks until all in-flight finals have been delivered or abandoned.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("session started")
	err := s.transport.Send(ctx, wire.ConnectionEstablished{
		Type:      wire.TypeConnectionEstablished,
		Message:   "WebSocket connection established",
		SessionID: s.id,
	})
	if err != nil {
		return err
	}

	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			s.disconnect(ctx)
			s.finals.Wait()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.log.Info("session closed", "bytes_received", s.received)
			return nil
		}

		if !msg.Binary {
			s.sendError(ctx, wire.CodeInvalidFormat, "expected binary audio frames")
			continue
		}
		s.handleChunk(ctx, msg.Data)
	}
}

// handleChunk validates, buffers, and acknowledges one audio chunk, then
// flushes if the buffer is due.
func (s *Session) handleChunk(ctx context.Context, chunk []byte) {
	if err := audio.Validate(s.cfg.Params, s.cfg.MaxBufferDuration, chunk); err != nil {
		s.met.ValidationFailures.Add(ctx, 1)
		s.log.Warn("rejected audio chunk", "bytes", len(chunk), "err", err)
		s.sendError(ctx, wire.CodeInvalidFormat, err.Error())
		return
	}

	s.buf.Append(chunk)
	s.received += len(chunk)
	s.met.AudioBytesReceived.Add(ctx, int64(len(chunk)))

	samples := audio.DecodeSamples(chunk)
	if audio.RMS(samples) < s.cfg.SilenceRMS {
		s.buf.AddSilence(s.cfg.Params.Duration(len(chunk)))
	} else {
		s.buf.ResetSilence()
	}

	if err := s.transport.Send(ctx, wire.AudioReceived{
		Type:          wire.TypeAudioReceived,
		BytesReceived: len(chunk),
	}); err != nil {
		s.log.Warn("failed to acknowledge chunk", "err", err)
	}

	if reason, due := s.buf.ShouldFlush(); due {
		s.flush(ctx, reason)
	}
}

// flush hands the current buffer to the pipeline, delivers the partial, and
// schedules the final.
func (s *Session) flush(ctx context.Context, reason FlushReason) {
	data, id, start, ok := s.buf.Flush()
	if !ok {
		return
	}
	s.met.RecordFlush(ctx, string(reason))
	s.log.Info("buffer flushed",
		"buffer_id", id,
		"reason", string(reason),
		"bytes", len(data),
		"started_at", start,
	)

	in := pipeline.Input{
		Samples:  audio.DecodeSamples(data),
		BufferID: id,
	}

	partial := s.pipe.ProcessPartial(ctx, in)
	if partial.Fault != nil {
		s.sendLocked(ctx, *partial.Fault)
		return
	}
	s.sendLocked(ctx, partial.Result)

	if partial.Recognition == nil {
		return
	}
	rec := *partial.Recognition
	s.finals.Add(1)
	// Finals run on a detached context so a closing connection cannot
	// cancel refinement that is already under way.
	finalCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.finals.Done()
		final := s.pipe.ProcessFinal(finalCtx, in, rec)
		s.sendLocked(finalCtx, final)
	}()
}

// disconnect flushes whatever audio remains when the client goes away. The
// results are still processed; delivery is attempted but failures are
// expected and ignored.
func (s *Session) disconnect(ctx context.Context) {
	if s.buf.Len() == 0 {
		return
	}
	s.flush(context.WithoutCancel(ctx), FlushDisconnect)
}

// sendLocked serializes result frames so a buffer's partial always precedes
// its final on the wire.
func (s *Session) sendLocked(ctx context.Context, v any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.transport.Send(ctx, v); err != nil {
		s.log.Debug("result delivery failed", "err", err)
	}
}

func (s *Session) sendError(ctx context.Context, code, message string) {
	if err := s.transport.Send(ctx, wire.NewError(code, message)); err != nil {
		s.log.Debug("error delivery failed", "err", err)
	}
}

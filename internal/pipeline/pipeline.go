// Package pipeline implements the two-phase transcription pipeline.
//
// The partial phase is the fast path: voice activity detection gates a
// single recognition pass, producing a partial result within the streaming
// latency budget. The final phase reuses that recognition (it never
// transcribes twice) and refines it through alignment, diarization, and
// correction in the background.
//
// The final phase degrades stage by stage: a failed alignment keeps the
// recogniser's boundaries, a failed diarization labels every segment with
// the default speaker, and a failed correction ships the uncorrected text.
// Only the partial phase can fail a buffer outright, and even then the
// session continues with the next buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/wernicke/internal/audio"
	"github.com/MrWong99/wernicke/internal/gpu"
	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/capability/vad"
	"github.com/MrWong99/wernicke/pkg/types"
	"github.com/MrWong99/wernicke/pkg/wire"
)

// Capabilities bundles the model backends the pipeline runs. Recognizer is
// required; every other field may be nil, in which case the in-package
// default (fail-open VAD, no-op alignment, static diarization, no-op
// correction) is used.
type Capabilities struct {
	VAD        vad.Detector
	Recognizer asr.Recognizer
	Aligner    align.Aligner
	Diarizer   diarize.Diarizer
	Corrector  correct.Corrector
}

// Input is one flushed audio buffer handed to the pipeline.
type Input struct {
	// Samples is the buffer as mono float32 PCM.
	Samples []float32

	// BufferID identifies the buffer; the partial and final for this input
	// carry it unchanged.
	BufferID string
}

// Partial is the outcome of the fast phase.
type Partial struct {
	// Result is the partial frame to deliver. Valid only when Fault is nil.
	Result wire.Result

	// Recognition is the single recognition pass for this buffer, input to
	// [Pipeline.ProcessFinal]. Nil when recognition was skipped (no speech)
	// or failed.
	Recognition *types.Recognition

	// VADSkipped reports that no speech was detected and recognition never
	// ran. Result is still valid (an empty partial).
	VADSkipped bool

	// Fault is the error frame to deliver instead of Result. The buffer is
	// skipped; no final follows.
	Fault *wire.ErrorFrame
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithLanguage sets the recognition language hint. Defaults to "ja".
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.met = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline runs both phases for any number of concurrent sessions. GPU
// stages are serialized through the supervisor; the pipeline itself holds
// no per-buffer state and is safe for concurrent use.
type Pipeline struct {
	caps     Capabilities
	sup      *gpu.Supervisor
	met      *observe.Metrics
	log      *slog.Logger
	language string
}

// New creates a Pipeline. caps.Recognizer must be set.
func New(caps Capabilities, sup *gpu.Supervisor, opts ...Option) (*Pipeline, error) {
	if caps.Recognizer == nil {
		return nil, errors.New("pipeline: a recognizer is required")
	}
	if sup == nil {
		return nil, errors.New("pipeline: a gpu supervisor is required")
	}
	if caps.VAD == nil {
		caps.VAD = vad.Always{}
	}
	if caps.Aligner == nil {
		caps.Aligner = align.Nop{}
	}
	if caps.Diarizer == nil {
		caps.Diarizer = diarize.Static{}
	}
	if caps.Corrector == nil {
		caps.Corrector = correct.Nop{}
	}

	p := &Pipeline{
		caps:     caps,
		sup:      sup,
		language: "ja",
	}
	for _, o := range opts {
		o(p)
	}
	if p.met == nil {
		p.met = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p, nil
}

// ProcessPartial runs the fast phase: VAD then one recognition pass.
func (p *Pipeline) ProcessPartial(ctx context.Context, in Input) Partial {
	began := time.Now()
	payload := len(in.Samples) * audio.BytesPerSample
	log := p.log.With("buffer_id", in.BufferID)

	var spans []types.SpeechSpan
	err := p.sup.Do(ctx, "vad", payload, func(ctx context.Context) error {
		var err error
		spans, err = p.caps.VAD.Detect(ctx, in.Samples)
		return err
	})
	if err != nil {
		// VAD fails open: a broken detector must not drop audio.
		log.Warn("vad failed, treating buffer as speech", "err", err)
		spans = []types.SpeechSpan{{Start: 0, End: len(in.Samples)}}
	}

	if !hasSpeech(spans) {
		log.Debug("no speech detected, skipping recognition")
		out := Partial{VADSkipped: true}
		out.Result = p.result(wire.TypePartial, in, "", nil, began)
		out.Result.VADSkipped = true
		p.met.PartialLatency.Record(ctx, time.Since(began).Seconds())
		return out
	}

	var rec types.Recognition
	err = p.sup.Do(ctx, "recognize", payload, func(ctx context.Context) error {
		var err error
		rec, err = p.caps.Recognizer.Transcribe(ctx, in.Samples, p.language)
		return err
	})
	if err != nil {
		if capability.IsOOM(err) {
			log.Warn("recognition out of memory, skipping buffer", "err", err)
			f := wire.NewError(wire.CodeGPUOOM,
				fmt.Sprintf("GPU memory exhausted while processing buffer %s; buffer skipped", in.BufferID))
			return Partial{Fault: &f}
		}
		log.Error("recognition failed", "err", err)
		f := wire.NewError(wire.CodeInternal,
			fmt.Sprintf("transcription failed for buffer %s; buffer skipped", in.BufferID))
		return Partial{Fault: &f}
	}

	p.met.PartialLatency.Record(ctx, time.Since(began).Seconds())
	return Partial{
		Result:      p.result(wire.TypePartial, in, rec.Text, rec.Segments, began),
		Recognition: &rec,
	}
}

// ProcessFinal runs the slow phase on the recognition produced by
// [Pipeline.ProcessPartial]. It always returns a deliverable final; every
// stage degrades independently.
func (p *Pipeline) ProcessFinal(ctx context.Context, in Input, rec types.Recognition) wire.Result {
	began := time.Now()
	payload := len(in.Samples) * audio.BytesPerSample
	log := p.log.With("buffer_id", in.BufferID)

	segments := make([]types.Segment, len(rec.Segments))
	copy(segments, rec.Segments)
	text := rec.Text

	// Alignment: on failure the recogniser's boundaries stand.
	var aligned []types.Segment
	err := p.sup.Do(ctx, "align", payload, func(ctx context.Context) error {
		var err error
		aligned, err = p.caps.Aligner.Align(ctx, segments, in.Samples)
		return err
	})
	if err != nil {
		log.Warn("alignment failed, keeping recognizer boundaries", "err", err)
	} else {
		segments = aligned
	}

	// Diarization: on failure every segment gets the default label.
	var labelled []types.Segment
	err = p.sup.Do(ctx, "diarize", payload, func(ctx context.Context) error {
		var err error
		labelled, err = p.caps.Diarizer.Diarize(ctx, segments, in.Samples)
		return err
	})
	if err != nil {
		log.Warn("diarization failed, applying default speaker", "err", err)
	} else {
		segments = labelled
	}
	diarize.FillMissing(segments)

	// Correction: on failure the uncorrected transcript ships.
	corrStart := time.Now()
	out, err := p.caps.Corrector.Correct(ctx, text, segments)
	p.met.RecordStage(ctx, "correct", time.Since(corrStart).Seconds())
	if err != nil {
		log.Warn("correction failed, delivering uncorrected transcript", "err", err)
	} else {
		text = out.Text
		segments = out.Segments
	}

	p.met.FinalLatency.Record(ctx, time.Since(began).Seconds())
	return p.result(wire.TypeFinal, in, text, segments, began)
}

// result assembles a wire frame for the buffer. The timestamp range spans
// the segments, relative to the start of the buffer; the final therefore
// recomputes it from the refined segments, and an empty result carries
// {0, 0}.
func (p *Pipeline) result(typ string, in Input, text string, segments []types.Segment, began time.Time) wire.Result {
	if segments == nil {
		segments = []types.Segment{}
	}
	return wire.Result{
		Type:           typ,
		BufferID:       in.BufferID,
		Text:           text,
		Segments:       segments,
		TimestampRange: spanOf(segments),
		LatencyMS:      float64(time.Since(began).Microseconds()) / 1000,
	}
}

// spanOf returns the interval the segments cover, in seconds from the start
// of the buffer: earliest segment start to latest segment end.
func spanOf(segments []types.Segment) wire.TimestampRange {
	if len(segments) == 0 {
		return wire.TimestampRange{}
	}
	r := wire.TimestampRange{Start: segments[0].Start, End: segments[0].End}
	for _, s := range segments[1:] {
		r.Start = min(r.Start, s.Start)
		r.End = max(r.End, s.End)
	}
	return r
}

// hasSpeech reports whether any span covers at least one sample.
func hasSpeech(spans []types.SpeechSpan) bool {
	for _, s := range spans {
		if s.Samples() > 0 {
			return true
		}
	}
	return false
}

// Package whispercpp implements asr.Recognizer with the whisper.cpp CGO
// bindings, eliminating HTTP overhead for on-box deployments. The
// whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables.
//
// The model is loaded once and shared; each Transcribe call creates a fresh
// whisper context, because contexts are not safe for reuse across
// goroutines.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/types"
)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithTranslate enables translation to English instead of transcription in
// the source language. Off by default.
func WithTranslate(enabled bool) Option {
	return func(r *Recognizer) { r.translate = enabled }
}

// Recognizer implements asr.Recognizer using a shared whisper.cpp model.
type Recognizer struct {
	mu        sync.Mutex
	model     whisperlib.Model
	translate bool
}

// New loads the whisper.cpp model from modelPath. The caller must call
// Close when the recogniser is no longer needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	r := &Recognizer{model: model}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != nil {
		err := r.model.Close()
		r.model = nil
		return err
	}
	return nil
}

// Transcribe implements asr.Recognizer. Inference is serialized internally;
// whisper.cpp contexts share model weights but not scratch buffers.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, language string) (types.Recognition, error) {
	if len(samples) == 0 {
		return types.Recognition{}, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Recognition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return types.Recognition{}, capability.Unavailable("whispercpp: transcribe", errors.New("model is closed"))
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return types.Recognition{}, classify("whispercpp: create context", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return types.Recognition{}, fmt.Errorf("whispercpp: set language %q: %w", language, err)
		}
	}
	wctx.SetTranslate(r.translate)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return types.Recognition{}, classify("whispercpp: process audio", err)
	}

	var rec types.Recognition
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Recognition{}, classify("whispercpp: read segment", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		rec.Segments = append(rec.Segments, types.Segment{
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
	}
	rec.Text = strings.Join(parts, " ")
	return rec, nil
}

// classify maps whisper.cpp errors onto the capability error kinds.
// The bindings surface CUDA allocation failures only as error text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "out of memory") {
		return capability.OOM(op, err)
	}
	return capability.Internal(op, err)
}

// Compile-time assertion that Recognizer implements asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

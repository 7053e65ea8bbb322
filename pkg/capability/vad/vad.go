// Package vad defines the voice activity detection capability.
//
// A detector classifies which portions of an audio buffer contain speech.
// The pipeline uses the result as a hallucination gate: buffers without any
// speech span skip recognition entirely. VAD is advisory by contract — when
// a detector fails, callers fail open and treat the whole buffer as speech
// rather than dropping audio.
package vad

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/types"
)

// Detector analyses a mono float32 PCM buffer and returns the spans that
// contain speech, in ascending sample order. An empty result means the
// buffer is silence or noise only.
//
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, samples []float32) ([]types.SpeechSpan, error)
}

// Always is a Detector that classifies the entire buffer as one speech span.
// It is the fail-open stand-in used when no VAD model is configured.
type Always struct{}

// Detect returns a single span covering all of samples, or no spans for an
// empty buffer.
func (Always) Detect(_ context.Context, samples []float32) ([]types.SpeechSpan, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	return []types.SpeechSpan{{Start: 0, End: len(samples)}}, nil
}

var _ Detector = Always{}

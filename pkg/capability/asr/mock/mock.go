// Package mock provides a test double for the asr package.
//
// Use Recognizer to inject transcription results or errors and to verify how
// often recognition ran — the pipeline contract is exactly one Transcribe
// call per flushed buffer.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/types"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the buffer passed to Transcribe.
	Samples []float32

	// Language is the language hint passed to Transcribe.
	Language string
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call.
	Result types.Recognition

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, TranscribeErr.
func (r *Recognizer) Transcribe(_ context.Context, samples []float32, language string) (types.Recognition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	r.TranscribeCalls = append(r.TranscribeCalls, TranscribeCall{Samples: cp, Language: language})
	if r.TranscribeErr != nil {
		return types.Recognition{}, r.TranscribeErr
	}
	return r.Result, nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TranscribeCalls = nil
}

// Ensure Recognizer implements asr.Recognizer at compile time.
var _ asr.Recognizer = (*Recognizer)(nil)

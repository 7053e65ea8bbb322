// Package mock provides a test double for the vad package.
//
// Use Detector to inject speech spans or errors and to inspect the sample
// buffers that were analysed.
//
// Example:
//
//	det := &mock.Detector{
//	    Spans: []types.SpeechSpan{{Start: 0, End: 16000}},
//	}
//	spans, _ := det.Detect(ctx, samples)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/vad"
	"github.com/MrWong99/wernicke/pkg/types"
)

// DetectCall records a single invocation of Detector.Detect.
type DetectCall struct {
	// Samples is a copy of the buffer passed to Detect.
	Samples []float32
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Spans is returned by every Detect call.
	Spans []types.SpeechSpan

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall
}

// Detect records the call and returns Spans, DetectErr.
func (d *Detector) Detect(_ context.Context, samples []float32) ([]types.SpeechSpan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	d.DetectCalls = append(d.DetectCalls, DetectCall{Samples: cp})
	if d.DetectErr != nil {
		return nil, d.DetectErr
	}
	return d.Spans, nil
}

// CallCount returns the number of recorded Detect calls. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)

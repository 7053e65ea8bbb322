// Package mock provides a test double for the align package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/types"
)

// AlignCall records a single invocation of Aligner.Align.
type AlignCall struct {
	// Segments is a copy of the segments passed to Align.
	Segments []types.Segment

	// SampleCount is the length of the audio buffer passed to Align.
	SampleCount int
}

// Aligner is a mock implementation of align.Aligner.
type Aligner struct {
	mu sync.Mutex

	// Result is returned by every Align call. When nil, the input segments
	// are echoed back.
	Result []types.Segment

	// AlignErr, if non-nil, is returned by every Align call.
	AlignErr error

	// AlignCalls records every call to Align in order.
	AlignCalls []AlignCall
}

// Align records the call and returns Result (or the input), AlignErr.
func (a *Aligner) Align(_ context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]types.Segment, len(segments))
	copy(cp, segments)
	a.AlignCalls = append(a.AlignCalls, AlignCall{Segments: cp, SampleCount: len(samples)})
	if a.AlignErr != nil {
		return nil, a.AlignErr
	}
	if a.Result != nil {
		return a.Result, nil
	}
	return cp, nil
}

// CallCount returns the number of recorded Align calls. Thread-safe.
func (a *Aligner) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.AlignCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (a *Aligner) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AlignCalls = nil
}

// Ensure Aligner implements align.Aligner at compile time.
var _ align.Aligner = (*Aligner)(nil)

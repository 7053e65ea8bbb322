// Package mock provides a test double for the diarize package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/types"
)

// DiarizeCall records a single invocation of Diarizer.Diarize.
type DiarizeCall struct {
	// Segments is a copy of the segments passed to Diarize.
	Segments []types.Segment

	// SampleCount is the length of the audio buffer passed to Diarize.
	SampleCount int
}

// Diarizer is a mock implementation of diarize.Diarizer.
type Diarizer struct {
	mu sync.Mutex

	// Result is returned by every Diarize call. When nil, the input segments
	// are echoed back with [diarize.DefaultSpeaker] applied.
	Result []types.Segment

	// DiarizeErr, if non-nil, is returned by every Diarize call.
	DiarizeErr error

	// DiarizeCalls records every call to Diarize in order.
	DiarizeCalls []DiarizeCall
}

// Diarize records the call and returns Result (or labelled input), DiarizeErr.
func (d *Diarizer) Diarize(_ context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]types.Segment, len(segments))
	copy(cp, segments)
	d.DiarizeCalls = append(d.DiarizeCalls, DiarizeCall{Segments: cp, SampleCount: len(samples)})
	if d.DiarizeErr != nil {
		return nil, d.DiarizeErr
	}
	if d.Result != nil {
		return d.Result, nil
	}
	diarize.FillMissing(cp)
	return cp, nil
}

// CallCount returns the number of recorded Diarize calls. Thread-safe.
func (d *Diarizer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DiarizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Diarizer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DiarizeCalls = nil
}

// Ensure Diarizer implements diarize.Diarizer at compile time.
var _ diarize.Diarizer = (*Diarizer)(nil)

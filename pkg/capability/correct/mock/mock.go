// Package mock provides a test double for the correct package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/types"
)

// CorrectCall records a single invocation of Corrector.Correct.
type CorrectCall struct {
	// Text is the transcript passed to Correct.
	Text string

	// Segments is a copy of the segments passed to Correct.
	Segments []types.Segment
}

// Corrector is a mock implementation of correct.Corrector.
type Corrector struct {
	mu sync.Mutex

	// Result is returned by every Correct call. When zero, the input is
	// echoed back with Corrected=false.
	Result correct.Output

	// CorrectErr, if non-nil, is returned by every Correct call.
	CorrectErr error

	// CorrectCalls records every call to Correct in order.
	CorrectCalls []CorrectCall
}

// Correct records the call and returns Result (or the input), CorrectErr.
func (c *Corrector) Correct(_ context.Context, text string, segments []types.Segment) (correct.Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]types.Segment, len(segments))
	copy(cp, segments)
	c.CorrectCalls = append(c.CorrectCalls, CorrectCall{Text: text, Segments: cp})
	if c.CorrectErr != nil {
		return correct.Output{}, c.CorrectErr
	}
	if c.Result.Text != "" || c.Result.Segments != nil {
		return c.Result, nil
	}
	return correct.Output{Text: text, Segments: cp}, nil
}

// CallCount returns the number of recorded Correct calls. Thread-safe.
func (c *Corrector) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.CorrectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Corrector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CorrectCalls = nil
}

// Ensure Corrector implements correct.Corrector at compile time.
var _ correct.Corrector = (*Corrector)(nil)

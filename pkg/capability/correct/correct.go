// Package correct defines the transcript correction capability: fixing
// recognition mistakes (homophones, dropped particles, punctuation) in a
// finished transcript.
//
// Correction runs exclusively in the background final phase — never on the
// partial path — so its latency penalty is acceptable. It degrades
// gracefully by contract: a failed correction yields the uncorrected text,
// never a failed final.
package correct

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/types"
)

// Output is the result of a correction pass.
type Output struct {
	// Text is the corrected full transcript. Equal to the input when no
	// correction was applied.
	Text string

	// Segments are the segments with corrected per-segment text. Timing and
	// speaker fields are preserved from the input.
	Segments []types.Segment

	// Corrected reports whether the corrector actually changed anything.
	// False on graceful degradation.
	Corrected bool
}

// Corrector revises a transcript. Implementations must not mutate the input
// segments slice and must be safe for concurrent use.
type Corrector interface {
	Correct(ctx context.Context, text string, segments []types.Segment) (Output, error)
}

// Nop is a Corrector that returns the input unchanged with Corrected=false.
// Used when no correction backend is configured.
type Nop struct{}

// Correct returns the input as-is.
func (Nop) Correct(_ context.Context, text string, segments []types.Segment) (Output, error) {
	out := make([]types.Segment, len(segments))
	copy(out, segments)
	return Output{Text: text, Segments: out}, nil
}

var _ Corrector = Nop{}

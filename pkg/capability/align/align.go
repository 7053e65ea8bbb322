// Package align defines the forced-alignment capability: refining segment
// boundaries and attaching word-level timings to recognised text.
package align

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/types"
)

// Aligner refines the time boundaries of recognised segments against the
// original audio and fills in word-level timings.
//
// Implementations must not mutate the input slice; they return a new one.
// The pipeline treats alignment as optional: on error the unaligned
// segments are used as-is.
type Aligner interface {
	Align(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error)
}

// Nop is an Aligner that returns the segments unchanged. Used when no
// alignment backend is configured.
type Nop struct{}

// Align returns a copy of segments without modification.
func (Nop) Align(_ context.Context, segments []types.Segment, _ []float32) ([]types.Segment, error) {
	out := make([]types.Segment, len(segments))
	copy(out, segments)
	return out, nil
}

var _ Aligner = Nop{}

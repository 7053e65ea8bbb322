// Package diarize defines the speaker diarization capability: labelling each
// recognised segment with the speaker who uttered it.
package diarize

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/types"
)

// DefaultSpeaker is the label applied when diarization is unavailable or
// fails. Finals always carry a speaker label.
const DefaultSpeaker = "Speaker_00"

// Diarizer assigns speaker labels to recognised segments.
//
// Implementations must not mutate the input slice; they return a new one.
// The pipeline treats diarization as optional: on error every segment is
// labelled [DefaultSpeaker].
type Diarizer interface {
	Diarize(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error)
}

// Static is a Diarizer that labels every segment with a fixed speaker. The
// zero value uses [DefaultSpeaker].
type Static struct {
	// Label overrides the speaker label. Empty means DefaultSpeaker.
	Label string
}

// Diarize returns a copy of segments with the static label applied.
func (s Static) Diarize(_ context.Context, segments []types.Segment, _ []float32) ([]types.Segment, error) {
	label := s.Label
	if label == "" {
		label = DefaultSpeaker
	}
	out := make([]types.Segment, len(segments))
	copy(out, segments)
	for i := range out {
		out[i].Speaker = label
	}
	return out, nil
}

var _ Diarizer = Static{}

// FillMissing labels any segment without a speaker with [DefaultSpeaker],
// in place. Pipeline stages call it after a diarization failure so finals
// never ship unlabelled segments.
func FillMissing(segments []types.Segment) {
	for i := range segments {
		if segments[i].Speaker == "" {
			segments[i].Speaker = DefaultSpeaker
		}
	}
}

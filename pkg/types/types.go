// Package types defines the shared transcription data model used across the
// Wernicke pipeline: recognised segments, word-level timings, and speech
// spans detected by voice activity detection.
//
// All timestamps are expressed in seconds relative to the start of the audio
// buffer they were produced from. Sample indices refer to positions in a
// mono float32 PCM stream.
package types

// WordTiming is a single word with its time boundaries inside a segment.
// Word-level timings are produced by forced alignment; recognisers that do
// not perform alignment leave the Words slice empty.
type WordTiming struct {
	// Word is the aligned token, including any trailing punctuation the
	// recogniser attached to it.
	Word string `json:"word"`

	// Start is the word onset in seconds from the beginning of the buffer.
	Start float64 `json:"start"`

	// End is the word offset in seconds from the beginning of the buffer.
	End float64 `json:"end"`

	// Score is the alignment confidence in [0.0, 1.0]. Zero when the aligner
	// does not report per-word confidence.
	Score float64 `json:"score,omitempty"`
}

// Segment is one contiguous piece of recognised speech.
type Segment struct {
	// Start is the segment onset in seconds from the beginning of the buffer.
	Start float64 `json:"start"`

	// End is the segment offset in seconds from the beginning of the buffer.
	End float64 `json:"end"`

	// Text is the recognised (and possibly corrected) transcript text.
	Text string `json:"text"`

	// Speaker is the diarization label (e.g., "Speaker_00"). Empty until the
	// diarization stage has run.
	Speaker string `json:"speaker,omitempty"`

	// Words holds word-level timings when alignment has run. May be nil.
	Words []WordTiming `json:"words,omitempty"`
}

// Recognition is the raw output of a speech recogniser for one audio buffer.
// It is the input to the final phase of the pipeline: alignment, diarization,
// and correction all operate on a Recognition produced exactly once per
// buffer.
type Recognition struct {
	// Text is the full transcript with segments joined in order.
	Text string

	// Segments are the recogniser's segments in temporal order.
	Segments []Segment
}

// SpeechSpan is a half-open range of sample indices [Start, End) that a
// voice activity detector classified as speech.
type SpeechSpan struct {
	// Start is the inclusive first sample index of the span.
	Start int

	// End is the exclusive last sample index of the span.
	End int
}

// Samples returns the number of samples covered by the span.
func (s SpeechSpan) Samples() int {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

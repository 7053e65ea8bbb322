// Package wire defines the JSON frames exchanged with transcription clients
// over the WebSocket connection.
//
// Every server-to-client frame carries a "type" discriminator so clients can
// dispatch without trial decoding. Clients send only binary audio frames;
// any text frame they send is rejected with an error frame.
package wire

import "github.com/MrWong99/wernicke/pkg/types"

// Frame type discriminators.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAudioReceived         = "audio_received"
	TypePartial               = "partial"
	TypeFinal                 = "final"
	TypeError                 = "error"
)

// Error codes carried by [ErrorFrame]. All of them are recoverable: the
// session stays open after sending one.
const (
	// CodeInvalidFormat rejects an audio chunk that failed validation or a
	// text frame where binary audio was expected.
	CodeInvalidFormat = "INVALID_FORMAT"

	// CodeGPUOOM reports that GPU memory was exhausted while processing a
	// buffer. The buffer is skipped; streaming continues.
	CodeGPUOOM = "GPU_OOM"

	// CodeInternal reports an unexpected processing failure for one buffer.
	CodeInternal = "INTERNAL"
)

// ConnectionEstablished is the first frame sent after the WebSocket
// handshake completes.
type ConnectionEstablished struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// AudioReceived acknowledges one accepted binary audio chunk.
// BytesReceived is the length of that chunk, not a running total.
type AudioReceived struct {
	Type          string `json:"type"`
	BytesReceived int    `json:"bytes_received"`
}

// TimestampRange is the interval a result's segments cover, in seconds from
// the start of the buffer. An empty result carries {0, 0}; the final derives
// its range from the refined segments, so it never extends past the buffer's
// duration.
type TimestampRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is a transcription frame, either a partial (fast recognition pass)
// or a final (aligned, diarized, corrected) for the same buffer ID.
type Result struct {
	Type           string          `json:"type"`
	BufferID       string          `json:"buffer_id"`
	Text           string          `json:"text"`
	Segments       []types.Segment `json:"segments"`
	TimestampRange TimestampRange  `json:"timestamp_range"`
	LatencyMS      float64         `json:"latency_ms"`

	// VADSkipped is set on an empty partial when voice activity detection
	// found no speech and recognition was skipped for the buffer.
	VADSkipped bool `json:"vad_skipped,omitempty"`
}

// ErrorFrame reports a recoverable per-buffer or per-chunk failure.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an [ErrorFrame] with the type discriminator set.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// Package asr defines the speech recognition capability.
//
// A recogniser performs batch transcription of one audio buffer. It runs
// exactly once per buffer: the fast partial pass and the slow final pass of
// the pipeline share the same Recognition value rather than transcribing
// twice.
//
// Implementations must be safe for concurrent use. GPU-backed recognisers
// report memory exhaustion with a capability error of kind oom so the
// pipeline can skip the buffer and recover.
package asr

import (
	"context"

	"github.com/MrWong99/wernicke/pkg/types"
)

// Recognizer transcribes a mono 16 kHz float32 PCM buffer.
//
// language is a BCP-47 code hint (e.g., "ja", "en"); implementations that
// auto-detect may ignore it. An empty buffer yields an empty Recognition
// without error.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, language string) (types.Recognition, error)
}

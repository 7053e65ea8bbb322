package session

import (
	"fmt"
	"time"

	"github.com/MrWong99/wernicke/internal/audio"
)

// FlushReason explains why a buffer was handed to the pipeline.
type FlushReason string

const (
	// FlushSilence means the trailing silence exceeded the threshold while
	// the buffer held at least the minimum duration of audio.
	FlushSilence FlushReason = "silence"

	// FlushMaxDuration means the buffer reached its maximum duration.
	FlushMaxDuration FlushReason = "max_duration"

	// FlushDisconnect means the client disconnected with audio still
	// buffered.
	FlushDisconnect FlushReason = "disconnect"
)

// BufferConfig configures a [Buffer].
type BufferConfig struct {
	// Params describes the incoming audio. Defaults to [audio.DefaultParams].
	Params audio.Params

	// MaxDuration caps the buffer; reaching it forces a flush. Defaults to
	// 30s if zero.
	MaxDuration time.Duration

	// MinDuration is the least audio a silence flush requires. Defaults to
	// 5s if zero.
	MinDuration time.Duration

	// SilenceThreshold is the trailing silence that triggers a flush once
	// MinDuration is buffered. Defaults to 2s if zero.
	SilenceThreshold time.Duration

	// Now supplies the clock, for tests. Defaults to [time.Now].
	Now func() time.Time
}

// Buffer accumulates raw PCM for one session and decides when to flush.
//
// A buffer flushes when it reaches MaxDuration, or when trailing silence
// exceeds SilenceThreshold while at least MinDuration of audio is held.
// Each flush is stamped with a buffer id of the form
// buff_YYYYMMDD_HHMMSS_NNN, where NNN counts flushes within the session
// starting at 001 and the timestamp is the flush time.
//
// Buffer is not safe for concurrent use; each session owns exactly one and
// drives it from its read loop.
type Buffer struct {
	cfg     BufferConfig
	data    []byte
	start   time.Time
	silence time.Duration
	flushes int
}

// NewBuffer creates an empty Buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.Params == (audio.Params{}) {
		cfg.Params = audio.DefaultParams
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 5 * time.Second
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Buffer{cfg: cfg}
}

// Append adds a validated chunk. The first chunk stamps the buffer start
// time.
func (b *Buffer) Append(chunk []byte) {
	if len(b.data) == 0 {
		b.start = b.cfg.Now()
	}
	b.data = append(b.data, chunk...)
}

// AddSilence extends the trailing silence by the duration of a silent
// chunk.
func (b *Buffer) AddSilence(d time.Duration) {
	b.silence += d
}

// ResetSilence clears the trailing silence counter after a voiced chunk.
func (b *Buffer) ResetSilence() {
	b.silence = 0
}

// Len returns the buffered byte count.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Duration returns the buffered audio duration.
func (b *Buffer) Duration() time.Duration {
	return b.cfg.Params.Duration(len(b.data))
}

// ShouldFlush reports whether the buffer is due, and why.
func (b *Buffer) ShouldFlush() (FlushReason, bool) {
	if len(b.data) == 0 {
		return "", false
	}
	dur := b.Duration()
	if dur >= b.cfg.MaxDuration {
		return FlushMaxDuration, true
	}
	if b.silence >= b.cfg.SilenceThreshold && dur >= b.cfg.MinDuration {
		return FlushSilence, true
	}
	return "", false
}

// Flush empties the buffer and returns its contents, the assigned buffer
// id, and the time the buffer began filling. It returns ok=false when
// nothing is buffered.
func (b *Buffer) Flush() (data []byte, id string, start time.Time, ok bool) {
	if len(b.data) == 0 {
		return nil, "", time.Time{}, false
	}
	b.flushes++
	id = fmt.Sprintf("buff_%s_%03d", b.cfg.Now().Format("20060102_150405"), b.flushes)
	data = b.data
	start = b.start
	b.data = nil
	b.start = time.Time{}
	b.silence = 0
	return data, id, start, true
}

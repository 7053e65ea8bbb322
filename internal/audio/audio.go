// Package audio validates and decodes the raw PCM chunks clients stream to
// the server.
//
// The accepted format is fixed: 16 kHz, mono, 32-bit little-endian float32
// PCM. One second of audio is 64 000 bytes.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BytesPerSample is the width of one float32 PCM sample.
const BytesPerSample = 4

// Params describes the PCM stream format.
type Params struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count. The server only accepts mono.
	Channels int
}

// DefaultParams is the only format the server accepts.
var DefaultParams = Params{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the byte rate of the stream.
func (p Params) BytesPerSecond() int {
	return p.SampleRate * p.Channels * BytesPerSample
}

// Duration returns the play time of n bytes of PCM.
func (p Params) Duration(n int) time.Duration {
	bps := p.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// Bytes returns the number of PCM bytes covering d.
func (p Params) Bytes(d time.Duration) int {
	return int(d.Seconds() * float64(p.BytesPerSecond()))
}

// ValidationError describes why an audio chunk was rejected. It maps to an
// INVALID_FORMAT error frame on the wire.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "audio: " + e.Reason
}

// Validate checks one incoming chunk against the stream format. maxDuration
// bounds the size of a single chunk; chunks shorter than one millisecond
// are rejected as junk. Checks run in a fixed order so clients get the most
// specific failure first.
func Validate(p Params, maxDuration time.Duration, chunk []byte) error {
	if len(chunk) == 0 {
		return &ValidationError{Reason: "empty audio chunk"}
	}
	if maxBytes := p.Bytes(maxDuration); maxBytes > 0 && len(chunk) > maxBytes {
		return &ValidationError{Reason: fmt.Sprintf(
			"chunk of %d bytes exceeds the %s maximum (%d bytes)",
			len(chunk), maxDuration, maxBytes,
		)}
	}
	if len(chunk)%BytesPerSample != 0 {
		return &ValidationError{Reason: fmt.Sprintf(
			"chunk of %d bytes is not aligned to %d-byte float32 frames",
			len(chunk), BytesPerSample,
		)}
	}
	if minBytes := p.Bytes(time.Millisecond); len(chunk) < minBytes {
		return &ValidationError{Reason: fmt.Sprintf(
			"chunk of %d bytes is shorter than 1ms of audio (%d bytes)",
			len(chunk), minBytes,
		)}
	}
	return nil
}

// DecodeSamples converts little-endian float32 PCM bytes to samples. The
// input length must be a multiple of [BytesPerSample]; trailing partial
// frames are dropped.
func DecodeSamples(chunk []byte) []float32 {
	n := len(chunk) / BytesPerSample
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*BytesPerSample:]))
	}
	return samples
}

// RMS returns the root-mean-square energy of a float32 sample buffer in
// full-scale units [0.0, 1.0]. Returns 0 for an empty buffer.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

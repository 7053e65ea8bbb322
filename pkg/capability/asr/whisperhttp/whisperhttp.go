// Package whisperhttp implements asr.Recognizer against a running
// whisper-server binary (the whisper.cpp REST frontend, POST /inference).
//
// Each buffer is wrapped in a RIFF/WAV container and submitted as a
// multipart upload. The server's verbose JSON response carries per-segment
// timestamps; when the server returns only plain text, a single segment
// spanning the whole buffer is synthesised.
//
// Usage:
//
//	rec, err := whisperhttp.New("http://localhost:8080",
//	    whisperhttp.WithModel("large-v3"),
//	)
//	result, err := rec.Transcribe(ctx, samples, "ja")
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/types"
)

const (
	// sampleRate is fixed at 16 kHz mono, the only format the server accepts.
	sampleRate = 16000

	// bitsPerSample is the WAV sample width submitted to whisper-server.
	bitsPerSample = 16

	defaultTimeout = 60 * time.Second
)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "large-v3"). When empty the server uses whichever model it was started
// with — this is the default.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithHTTPClient replaces the default HTTP client (60 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.httpClient = c }
}

// Recognizer implements asr.Recognizer backed by a whisper-server instance.
// It is safe for concurrent use.
type Recognizer struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Recognizer that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisperhttp: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// inferenceResponse mirrors the whisper-server verbose JSON schema. Servers
// running without timestamps return only the text field.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements asr.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, language string) (types.Recognition, error) {
	if len(samples) == 0 {
		return types.Recognition{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(samples)); err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: write response_format field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return types.Recognition{}, fmt.Errorf("whisperhttp: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return types.Recognition{}, fmt.Errorf("whisperhttp: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return types.Recognition{}, capability.Unavailable("whisperhttp: transcribe", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if isOOMResponse(resp.StatusCode, data) {
			return types.Recognition{}, capability.OOM("whisperhttp: transcribe", err)
		}
		return types.Recognition{}, capability.Internal("whisperhttp: transcribe", err)
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return types.Recognition{}, fmt.Errorf("whisperhttp: parse JSON response: %w", err)
	}

	rec := types.Recognition{Text: strings.TrimSpace(parsed.Text)}
	for _, s := range parsed.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		rec.Segments = append(rec.Segments, types.Segment{Start: s.Start, End: s.End, Text: text})
	}
	if rec.Text != "" && len(rec.Segments) == 0 {
		rec.Segments = []types.Segment{{
			Start: 0,
			End:   float64(len(samples)) / sampleRate,
			Text:  rec.Text,
		}}
	}
	return rec, nil
}

// isOOMResponse reports whether an error response indicates GPU memory
// exhaustion on the server.
func isOOMResponse(status int, body []byte) bool {
	if status == http.StatusInsufficientStorage {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom")
}

// encodeWAV quantises float32 samples to 16-bit signed PCM and wraps them in
// a standard RIFF/WAV container.
func encodeWAV(samples []float32) []byte {
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(v)))
	}
	return buf
}

// Compile-time assertion that Recognizer implements asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

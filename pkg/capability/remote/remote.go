// Package remote implements the alignment and diarization capabilities
// against the GPU sidecar service that hosts the heavyweight models
// (forced alignment and speaker embedding).
//
// Audio travels as base64-encoded little-endian float32 PCM inside a JSON
// body. The sidecar also exposes POST /cache/drop, which the resource
// supervisor invokes to free GPU memory after an out-of-memory event.
//
// Usage:
//
//	c, err := remote.New("http://localhost:9000")
//	aligned, err := c.Align(ctx, segments, samples)
//	labelled, err := c.Diarize(ctx, aligned, samples)
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/types"
)

const (
	// sampleRate is reported to the sidecar with every request.
	sampleRate = 16000

	defaultTimeout = 120 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage sets the language hint sent with alignment requests.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the default HTTP client (120 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to the GPU sidecar. It implements align.Aligner,
// diarize.Diarizer, and capability.CacheReleaser, and is safe for
// concurrent use.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// New creates a Client for the sidecar at baseURL (e.g.,
// "http://localhost:9000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// stageRequest is the JSON body for /align and /diarize.
type stageRequest struct {
	Audio      string          `json:"audio"`
	SampleRate int             `json:"sample_rate"`
	Language   string          `json:"language,omitempty"`
	Segments   []types.Segment `json:"segments"`
}

// stageResponse is the JSON body returned by /align and /diarize.
type stageResponse struct {
	Segments []types.Segment `json:"segments"`
}

// Align implements align.Aligner via POST /align.
func (c *Client) Align(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	return c.stage(ctx, "align", segments, samples)
}

// Diarize implements diarize.Diarizer via POST /diarize.
func (c *Client) Diarize(ctx context.Context, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	return c.stage(ctx, "diarize", segments, samples)
}

// ReleaseCache implements capability.CacheReleaser via POST /cache/drop.
func (c *Client) ReleaseCache(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cache/drop", nil)
	if err != nil {
		return fmt.Errorf("remote: create cache drop request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return capability.Unavailable("remote: cache drop", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote: cache drop returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// stage runs one sidecar stage and returns the segments from the response.
func (c *Client) stage(ctx context.Context, name string, segments []types.Segment, samples []float32) ([]types.Segment, error) {
	op := "remote: " + name

	if segments == nil {
		segments = []types.Segment{}
	}
	body, err := json.Marshal(stageRequest{
		Audio:      encodeAudio(samples),
		SampleRate: sampleRate,
		Language:   c.language,
		Segments:   segments,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, capability.Unavailable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response body: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("sidecar returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if isOOMResponse(resp.StatusCode, data) {
			return nil, capability.OOM(op, cause)
		}
		return nil, capability.Internal(op, cause)
	}

	var parsed stageResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%s: parse JSON response: %w", op, err)
	}
	return parsed.Segments, nil
}

// isOOMResponse reports whether an error response indicates GPU memory
// exhaustion on the sidecar.
func isOOMResponse(status int, body []byte) bool {
	if status == http.StatusInsufficientStorage {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom")
}

// encodeAudio serialises samples as base64 little-endian float32 PCM.
func encodeAudio(samples []float32) string {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Compile-time assertions for the interfaces Client serves.
var (
	_ align.Aligner            = (*Client)(nil)
	_ diarize.Diarizer         = (*Client)(nil)
	_ capability.CacheReleaser = (*Client)(nil)
)

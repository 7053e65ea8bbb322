// Package llmfix implements a language-model-based transcript correction
// stage for conversational speech.
//
// The [Corrector] sends the raw transcript and its segment texts to an
// [llm.Provider]. The model is instructed (via a conservative system
// prompt) to fix only clear recognition mistakes — homophone substitutions,
// dropped particles, obvious punctuation errors — and to return a
// structured JSON response with the corrected transcript and the corrected
// text of every segment.
//
// When the LLM response cannot be parsed, the corrector returns the
// original transcript unchanged rather than surfacing an error, ensuring
// the final phase always produces a result.
package llmfix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/llm"
	"github.com/MrWong99/wernicke/pkg/types"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2048
)

// systemPrompt instructs the model to act as a conservative post-editor.
const systemPrompt = `You are a transcript post-editor for a real-time speech recognition system.

Your task: fix clear recognition mistakes in the provided transcript.

Rules:
- ONLY fix obvious recognition errors: homophone substitutions, dropped or duplicated particles, and clearly wrong punctuation.
- Do NOT paraphrase, summarise, reorder, or change the meaning of any sentence.
- Be conservative — if you are not confident a word is a recognition error, leave it unchanged.
- Keep the language of the transcript; never translate.
- The transcript is split into numbered segments. Correct each segment's text independently and keep the segment count identical.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrected_segments": ["<segment 0 text>", "<segment 1 text>"]
}

If no corrections are needed, return the input text and segments unchanged.`

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	CorrectedText     string   `json:"corrected_text"`
	CorrectedSegments []string `json:"corrected_segments"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Lower values produce more
// deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// WithMaxTokens caps the completion length. Default: 2048.
func WithMaxTokens(n int) Option {
	return func(c *Corrector) { c.maxTokens = n }
}

// Corrector uses an [llm.Provider] to fix recognition mistakes in finished
// transcripts. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for correction, construct the [llm.Provider] with that
// model configured.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns a new [Corrector] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct implements correct.Corrector.
//
// When the model response is unparseable or the segment count does not
// match, Correct falls back to the original input with Corrected=false and
// a nil error. Provider and context errors are returned so the pipeline can
// log and degrade.
func (c *Corrector) Correct(ctx context.Context, text string, segments []types.Segment) (correct.Output, error) {
	unchanged := correct.Output{Text: text, Segments: copySegments(segments)}
	if strings.TrimSpace(text) == "" {
		return unchanged, nil
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserMessage(text, segments)},
		},
	})
	if err != nil {
		return correct.Output{}, fmt.Errorf("llmfix: complete: %w", err)
	}

	parsed, parseErr := parseResponse(resp.Content)
	if parseErr != nil || parsed.CorrectedText == "" {
		// Unparseable response: return original unchanged, no error.
		return unchanged, nil
	}

	out := correct.Output{
		Text:     parsed.CorrectedText,
		Segments: copySegments(segments),
	}
	if len(parsed.CorrectedSegments) == len(out.Segments) {
		for i := range out.Segments {
			if s := strings.TrimSpace(parsed.CorrectedSegments[i]); s != "" {
				out.Segments[i].Text = s
			}
		}
	}
	out.Corrected = out.Text != text || segmentsDiffer(segments, out.Segments)
	return out, nil
}

// buildUserMessage formats the transcript and its numbered segment texts.
func buildUserMessage(text string, segments []types.Segment) string {
	var sb strings.Builder
	sb.WriteString("Transcript: ")
	sb.WriteString(text)
	sb.WriteString("\n\nSegments:\n")
	for i, s := range segments {
		fmt.Fprintf(&sb, "%d: %s\n", i, s.Text)
	}
	return sb.String()
}

// parseResponse unmarshals the model output, stripping optional markdown
// code fences (```json ... ```) some models wrap around JSON.
func parseResponse(content string) (llmResponse, error) {
	s := strings.TrimSpace(content)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}

	var r llmResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &r); err != nil {
		return llmResponse{}, fmt.Errorf("llmfix: parse response: %w", err)
	}
	return r, nil
}

func copySegments(segments []types.Segment) []types.Segment {
	out := make([]types.Segment, len(segments))
	copy(out, segments)
	return out
}

func segmentsDiffer(a, b []types.Segment) bool {
	for i := range a {
		if a[i].Text != b[i].Text {
			return true
		}
	}
	return false
}

// Compile-time assertion that Corrector implements correct.Corrector.
var _ correct.Corrector = (*Corrector)(nil)

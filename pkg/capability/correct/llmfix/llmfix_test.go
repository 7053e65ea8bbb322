package llmfix

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmmock "github.com/MrWong99/wernicke/pkg/llm/mock"
	"github.com/MrWong99/wernicke/pkg/types"
)

func segs(texts ...string) []types.Segment {
	out := make([]types.Segment, len(texts))
	for i, t := range texts {
		out[i] = types.Segment{Start: float64(i), End: float64(i + 1), Text: t, Speaker: "Speaker_00"}
	}
	return out
}

func TestCorrectAppliesModelOutput(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Content: `{"corrected_text":"I saw two ships","corrected_segments":["I saw","two ships"]}`,
	}
	c := New(provider)

	out, err := c.Correct(context.Background(), "I saw too ships", segs("I saw", "too ships"))
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if !out.Corrected {
		t.Error("Corrected = false, want true")
	}
	if out.Text != "I saw two ships" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Segments[1].Text != "two ships" {
		t.Errorf("segment[1].Text = %q, want %q", out.Segments[1].Text, "two ships")
	}
	// Timing and speaker metadata must survive correction.
	if out.Segments[1].Start != 1 || out.Segments[1].Speaker != "Speaker_00" {
		t.Errorf("segment metadata lost: %+v", out.Segments[1])
	}
}

func TestCorrectStripsMarkdownFences(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Content: "```json\n{\"corrected_text\":\"hi\",\"corrected_segments\":[\"hi\"]}\n```",
	}
	out, err := New(provider).Correct(context.Background(), "hai", segs("hai"))
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "hi" {
		t.Errorf("Text = %q, want hi", out.Text)
	}
}

func TestCorrectUnparseableResponseDegrades(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Content: "Sure! The corrected text is..."}
	out, err := New(provider).Correct(context.Background(), "original", segs("original"))
	if err != nil {
		t.Fatalf("Correct returned error on unparseable response: %v", err)
	}
	if out.Corrected {
		t.Error("Corrected = true, want false")
	}
	if out.Text != "original" || out.Segments[0].Text != "original" {
		t.Errorf("degraded output mutated input: %+v", out)
	}
}

func TestCorrectSegmentCountMismatchKeepsSegmentTexts(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Content: `{"corrected_text":"a b c","corrected_segments":["a"]}`,
	}
	out, err := New(provider).Correct(context.Background(), "a b sea", segs("a b", "sea"))
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "a b c" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Segments[0].Text != "a b" || out.Segments[1].Text != "sea" {
		t.Errorf("segment texts changed despite count mismatch: %+v", out.Segments)
	}
}

func TestCorrectProviderErrorIsReturned(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	_, err := New(provider).Correct(context.Background(), "text", segs("text"))
	if err == nil {
		t.Fatal("want error from provider failure, got nil")
	}
}

func TestCorrectEmptyTextSkipsModel(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{}
	out, err := New(provider).Correct(context.Background(), "  ", nil)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Corrected {
		t.Error("Corrected = true for empty text")
	}
	if provider.CallCount() != 0 {
		t.Errorf("Complete called %d times for empty text, want 0", provider.CallCount())
	}
}

func TestUserMessageNumbersSegments(t *testing.T) {
	t.Parallel()

	msg := buildUserMessage("a b", segs("a", "b"))
	if !strings.Contains(msg, "0: a") || !strings.Contains(msg, "1: b") {
		t.Errorf("user message missing numbered segments:\n%s", msg)
	}
}

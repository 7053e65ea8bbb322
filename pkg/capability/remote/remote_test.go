package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/types"
)

func TestAlignRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/align" {
			t.Errorf("path = %q, want /align", r.URL.Path)
		}
		var req stageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SampleRate != 16000 {
			t.Errorf("sample_rate = %d, want 16000", req.SampleRate)
		}
		raw, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			t.Fatalf("audio is not valid base64: %v", err)
		}
		if len(raw) != 4*160 {
			t.Errorf("decoded audio = %d bytes, want 640", len(raw))
		}
		json.NewEncoder(w).Encode(stageResponse{Segments: []types.Segment{
			{Start: 0.1, End: 0.9, Text: "hi", Words: []types.WordTiming{{Word: "hi", Start: 0.1, End: 0.4}}},
		}})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithLanguage("ja"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Align(context.Background(), []types.Segment{{Text: "hi"}}, make([]float32, 160))
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(out) != 1 || len(out[0].Words) != 1 {
		t.Fatalf("unexpected aligned segments: %+v", out)
	}
}

func TestDiarizeClassifiesOOM(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		io.WriteString(w, `{"error":"allocation failed"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Diarize(context.Background(), nil, make([]float32, 16))
	if !capability.IsOOM(err) {
		t.Errorf("IsOOM = false for %v, want true", err)
	}
}

func TestReleaseCache(t *testing.T) {
	t.Parallel()

	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/cache/drop" {
			hit = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.ReleaseCache(context.Background()); err != nil {
		t.Fatalf("ReleaseCache: %v", err)
	}
	if !hit {
		t.Error("POST /cache/drop was never called")
	}
}

func TestUnreachableSidecarIsUnavailable(t *testing.T) {
	t.Parallel()

	c, err := New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Align(context.Background(), nil, nil)
	if !capability.IsUnavailable(err) {
		t.Errorf("IsUnavailable = false for %v, want true", err)
	}
}

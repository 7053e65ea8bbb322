package whisperhttp

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/wernicke/pkg/capability"
)

func TestTranscribeParsesSegments(t *testing.T) {
	t.Parallel()

	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "ja" {
			t.Errorf("language field = %q, want ja", got)
		}
		io.WriteString(w, `{"text":"こんにちは 世界","segments":[
			{"start":0.0,"end":1.2,"text":"こんにちは"},
			{"start":1.2,"end":2.5,"text":"世界"}]}`)
	}))
	defer srv.Close()

	rec, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := rec.Transcribe(context.Background(), make([]float32, 16000), "ja")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "こんにちは 世界" {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(result.Segments))
	}
	if result.Segments[1].Start != 1.2 || result.Segments[1].End != 2.5 {
		t.Errorf("segment[1] range = [%v, %v], want [1.2, 2.5]",
			result.Segments[1].Start, result.Segments[1].End)
	}
	if gotContentType == "" {
		t.Error("missing Content-Type header")
	}
}

func TestTranscribeSynthesisesSegmentFromPlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"hello"}`)
	}))
	defer srv.Close()

	rec, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 2 seconds of audio at 16 kHz.
	result, err := rec.Transcribe(context.Background(), make([]float32, 32000), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(result.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(result.Segments))
	}
	if result.Segments[0].End != 2.0 {
		t.Errorf("synthesised segment end = %v, want 2.0", result.Segments[0].End)
	}
}

func TestTranscribeEmptyBuffer(t *testing.T) {
	t.Parallel()

	rec, err := New("http://localhost:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := rec.Transcribe(context.Background(), nil, "ja")
	if err != nil {
		t.Fatalf("Transcribe on empty buffer: %v", err)
	}
	if result.Text != "" || len(result.Segments) != 0 {
		t.Errorf("want empty recognition, got %+v", result)
	}
}

func TestTranscribeClassifiesOOM(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "CUDA out of memory")
	}))
	defer srv.Close()

	rec, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = rec.Transcribe(context.Background(), make([]float32, 1600), "ja")
	if !capability.IsOOM(err) {
		t.Errorf("IsOOM = false for error %v, want true", err)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	wav := encodeWAV([]float32{0, 0.5, -0.5, 1.0})
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 8 {
		t.Errorf("data size = %d, want 8", got)
	}
	// Full-scale 1.0 clamps to 32767.
	if got := int16(binary.LittleEndian.Uint16(wav[44+6:])); got != 32767 {
		t.Errorf("sample 3 = %d, want 32767", got)
	}
}

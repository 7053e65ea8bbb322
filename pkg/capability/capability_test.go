package capability

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindDispatch(t *testing.T) {
	t.Parallel()

	cause := errors.New("CUDA out of memory")
	err := OOM("whisper: transcribe", cause)

	if !IsOOM(err) {
		t.Error("IsOOM = false, want true")
	}
	if IsUnavailable(err) {
		t.Error("IsUnavailable = true, want false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("pipeline: recognize stage: %w", OOM("asr", nil))
	if !IsOOM(err) {
		t.Error("IsOOM through fmt.Errorf wrap = false, want true")
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"with cause", Internal("remote: align", errors.New("boom")), "remote: align: internal: boom"},
		{"nil cause", Unavailable("silero: detect", nil), "silero: detect: unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsHelpersOnPlainError(t *testing.T) {
	t.Parallel()

	err := errors.New("plain")
	if IsOOM(err) || IsUnavailable(err) {
		t.Error("plain error misclassified as capability error")
	}
}

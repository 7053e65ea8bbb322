package session

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wernicke/internal/gpu"
	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/internal/pipeline"
	"github.com/MrWong99/wernicke/pkg/capability"
	asrmock "github.com/MrWong99/wernicke/pkg/capability/asr/mock"
	vadmock "github.com/MrWong99/wernicke/pkg/capability/vad/mock"
	"github.com/MrWong99/wernicke/pkg/types"
	"github.com/MrWong99/wernicke/pkg/wire"
)

// fakeTransport feeds scripted frames to a session and records everything
// the session sends.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []any
	incoming chan Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan Message, 128)}
}

func (f *fakeTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-f.incoming:
		if !ok {
			return Message{}, errors.New("connection closed")
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (f *fakeTransport) Send(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeTransport) audio(chunk []byte) {
	f.incoming <- Message{Binary: true, Data: chunk}
}

func (f *fakeTransport) text(s string) {
	f.incoming <- Message{Binary: false, Data: []byte(s)}
}

func (f *fakeTransport) close() {
	close(f.incoming)
}

var _ Transport = (*fakeTransport)(nil)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newPipelineWith(t *testing.T, caps pipeline.Capabilities, m *observe.Metrics) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(caps, gpu.NewSupervisor(gpu.WithMetrics(m)), pipeline.WithMetrics(m))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

func newSessionTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	return newPipelineWith(t, pipeline.Capabilities{
		VAD:        &vadmock.Detector{Spans: []types.SpeechSpan{{Start: 0, End: 16000}}},
		Recognizer: &asrmock.Recognizer{Result: types.Recognition{Text: "hello"}},
	}, testMetrics(t))
}

// chunk builds one second of mono float32 PCM at the given amplitude.
func chunk(amplitude float32) []byte {
	out := make([]byte, 64000)
	for i := 0; i < len(out); i += 4 {
		binary.LittleEndian.PutUint32(out[i:], math.Float32bits(amplitude))
	}
	return out
}

func errorFrames(frames []any) []wire.ErrorFrame {
	var out []wire.ErrorFrame
	for _, f := range frames {
		if e, ok := f.(wire.ErrorFrame); ok {
			out = append(out, e)
		}
	}
	return out
}

func resultFrames(frames []any, typ string) []wire.Result {
	var out []wire.Result
	for _, f := range frames {
		if r, ok := f.(wire.Result); ok && r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestRunSendsConnectionEstablishedFirst(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := tr.frames()
	if len(frames) == 0 {
		t.Fatal("no frames sent")
	}
	hello, ok := frames[0].(wire.ConnectionEstablished)
	if !ok {
		t.Fatalf("first frame is %T, want ConnectionEstablished", frames[0])
	}
	if hello.SessionID != s.ID() {
		t.Errorf("session id in handshake = %q, want %q", hello.SessionID, s.ID())
	}
	if hello.Type != wire.TypeConnectionEstablished {
		t.Errorf("handshake type = %q, want %q", hello.Type, wire.TypeConnectionEstablished)
	}
}

func TestRunAcknowledgesEachChunkLength(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.audio(chunk(0.5))
	tr.audio(chunk(0.5)[:32000])
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var acks []wire.AudioReceived
	for _, f := range tr.frames() {
		if a, ok := f.(wire.AudioReceived); ok {
			acks = append(acks, a)
		}
	}
	if len(acks) != 2 {
		t.Fatalf("got %d acks, want 2", len(acks))
	}
	// Each ack carries the length of its own chunk, not a running total.
	if acks[0].BytesReceived != 64000 || acks[1].BytesReceived != 32000 {
		t.Errorf("ack byte counts = %d, %d, want 64000, 32000",
			acks[0].BytesReceived, acks[1].BytesReceived)
	}
}

func TestRunRejectsTextFramesAndContinues(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.text(`{"type":"hello"}`)
	tr.audio(chunk(0.5))
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	errs := errorFrames(tr.frames())
	if len(errs) != 1 || errs[0].Code != wire.CodeInvalidFormat {
		t.Fatalf("error frames = %+v, want one INVALID_FORMAT", errs)
	}

	var acked bool
	for _, f := range tr.frames() {
		if _, ok := f.(wire.AudioReceived); ok {
			acked = true
		}
	}
	if !acked {
		t.Error("audio after the text frame was not acknowledged, session should stay open")
	}
}

func TestRunRejectsInvalidChunksAndContinues(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.audio([]byte{1, 2, 3, 4, 5, 6, 7}) // unaligned
	tr.audio(chunk(0.5))
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	errs := errorFrames(tr.frames())
	if len(errs) != 1 || errs[0].Code != wire.CodeInvalidFormat {
		t.Fatalf("error frames = %+v, want one INVALID_FORMAT", errs)
	}
	var acks int
	for _, f := range tr.frames() {
		if _, ok := f.(wire.AudioReceived); ok {
			acks++
		}
	}
	if acks != 1 {
		t.Errorf("got %d acks, want 1 for the single valid chunk", acks)
	}
}

func TestRunFlushesOnSilence(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	for range 5 {
		tr.audio(chunk(0.5))
	}
	tr.audio(chunk(0))
	tr.audio(chunk(0))
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := tr.frames()
	partials := resultFrames(frames, wire.TypePartial)
	finals := resultFrames(frames, wire.TypeFinal)
	if len(partials) != 1 || len(finals) != 1 {
		t.Fatalf("got %d partials and %d finals, want 1 each", len(partials), len(finals))
	}
	if partials[0].BufferID != finals[0].BufferID {
		t.Errorf("buffer ids differ: partial %q, final %q",
			partials[0].BufferID, finals[0].BufferID)
	}
	// 5 voiced + 2 silent one-second chunks were flushed, so any reported
	// range must fall inside the 7 s buffer.
	for _, r := range []wire.TimestampRange{partials[0].TimestampRange, finals[0].TimestampRange} {
		if r.Start < 0 || r.End < r.Start || r.End > 7 {
			t.Errorf("timestamp range %+v extends outside the flushed buffer", r)
		}
	}
}

func TestRunPartialPrecedesFinal(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	for range 5 {
		tr.audio(chunk(0.5))
	}
	tr.audio(chunk(0))
	tr.audio(chunk(0))
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	partialIdx, finalIdx := -1, -1
	for i, f := range tr.frames() {
		if r, ok := f.(wire.Result); ok {
			switch r.Type {
			case wire.TypePartial:
				partialIdx = i
			case wire.TypeFinal:
				finalIdx = i
			}
		}
	}
	if partialIdx == -1 || finalIdx == -1 {
		t.Fatal("missing partial or final frame")
	}
	if partialIdx > finalIdx {
		t.Errorf("partial at index %d arrived after final at %d", partialIdx, finalIdx)
	}
}

func TestRunFlushesOnMaxDuration(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	for range 3 {
		tr.audio(chunk(0.5))
	}
	tr.close()
	cfg := Config{
		MaxBufferDuration: 3 * time.Second,
		MinBufferDuration: time.Second,
		SilenceThreshold:  time.Minute,
	}
	s := New(tr, newSessionTestPipeline(t), cfg, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(resultFrames(tr.frames(), wire.TypePartial)); got != 1 {
		t.Errorf("got %d partials, want 1 from the max-duration flush", got)
	}
}

func TestRunSkipsSilentBufferAfterVAD(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	rec := &asrmock.Recognizer{}
	pipe := newPipelineWith(t, pipeline.Capabilities{
		VAD:        &vadmock.Detector{}, // no speech spans
		Recognizer: rec,
	}, m)

	tr := newFakeTransport()
	for range 3 {
		tr.audio(chunk(0.5))
	}
	tr.close()
	cfg := Config{
		MaxBufferDuration: 3 * time.Second,
		MinBufferDuration: time.Second,
		SilenceThreshold:  time.Minute,
	}
	s := New(tr, pipe, cfg, WithMetrics(m))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	partials := resultFrames(tr.frames(), wire.TypePartial)
	if len(partials) != 1 || !partials[0].VADSkipped {
		t.Fatalf("partials = %+v, want one vad-skipped partial", partials)
	}
	if got := len(resultFrames(tr.frames(), wire.TypeFinal)); got != 0 {
		t.Errorf("got %d finals for a silent buffer, want 0", got)
	}
	if rec.CallCount() != 0 {
		t.Errorf("Transcribe ran %d times for a silent buffer, want 0", rec.CallCount())
	}
}

func TestRunSurvivesGPUOOM(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	pipe := newPipelineWith(t, pipeline.Capabilities{
		VAD:        &vadmock.Detector{Spans: []types.SpeechSpan{{Start: 0, End: 16000}}},
		Recognizer: &asrmock.Recognizer{TranscribeErr: capability.OOM("asr", errors.New("CUDA out of memory"))},
	}, m)

	tr := newFakeTransport()
	for range 3 {
		tr.audio(chunk(0.5))
	}
	tr.audio(chunk(0.5)) // a further chunk after the failed buffer
	tr.close()
	cfg := Config{
		MaxBufferDuration: 3 * time.Second,
		MinBufferDuration: time.Second,
		SilenceThreshold:  time.Minute,
	}
	s := New(tr, pipe, cfg, WithMetrics(m))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := tr.frames()
	var oomSeen bool
	for _, e := range errorFrames(frames) {
		if e.Code == wire.CodeGPUOOM {
			oomSeen = true
		}
	}
	if !oomSeen {
		t.Fatal("no GPU_OOM error frame after an oom buffer")
	}
	var acks int
	for _, f := range frames {
		if _, ok := f.(wire.AudioReceived); ok {
			acks++
		}
	}
	if acks != 4 {
		t.Errorf("got %d acks, want 4; the session must keep accepting audio", acks)
	}
}

func TestRunFlushesRemainderOnDisconnect(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.audio(chunk(0.5))
	tr.audio(chunk(0.5))
	tr.close()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	partials := resultFrames(tr.frames(), wire.TypePartial)
	finals := resultFrames(tr.frames(), wire.TypeFinal)
	if len(partials) != 1 || len(finals) != 1 {
		t.Fatalf("got %d partials and %d finals after disconnect, want 1 each",
			len(partials), len(finals))
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := New(tr, newSessionTestPipeline(t), Config{}, WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

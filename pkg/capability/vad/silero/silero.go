// Package silero implements vad.Detector with the Silero VAD ONNX model
// running on onnxruntime.
//
// The model is stateful: an LSTM state and a short context window of samples
// carry over between 512-sample chunks. Detect resets that state per buffer,
// so each buffer is classified independently.
//
// Usage:
//
//	det, err := silero.New("models/silero_vad.onnx",
//	    silero.WithThreshold(0.5),
//	    silero.WithMinSpeechDuration(250*time.Millisecond),
//	)
//	spans, err := det.Detect(ctx, samples)
package silero

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/vad"
	"github.com/MrWong99/wernicke/pkg/types"
)

const (
	// sampleRate is fixed at 16 kHz; the server only accepts 16 kHz audio.
	sampleRate = 16000

	// windowSize is the Silero inference window at 16 kHz (32 ms).
	windowSize = 512

	// contextSize is the number of trailing samples from the previous window
	// that the model expects prepended to each input.
	contextSize = 64

	// stateSize is the flattened LSTM state shape [2, 1, 128].
	stateSize = 2 * 1 * 128
)

// ortInit guards one-time onnxruntime environment initialisation.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithThreshold sets the speech probability threshold in [0.0, 1.0] above
// which a window is classified as speech. Defaults to 0.5.
func WithThreshold(t float32) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithMinSpeechDuration sets the minimum length a speech span must reach to
// be reported. Shorter bursts are treated as noise. Defaults to 250 ms.
func WithMinSpeechDuration(dur time.Duration) Option {
	return func(d *Detector) { d.minSpeech = dur }
}

// WithMinSilenceDuration sets how much continuous silence ends an active
// speech span. Defaults to 100 ms.
func WithMinSilenceDuration(dur time.Duration) Option {
	return func(d *Detector) { d.minSilence = dur }
}

// WithSpeechPad sets the padding added before and after each detected span.
// Defaults to 30 ms.
func WithSpeechPad(dur time.Duration) Option {
	return func(d *Detector) { d.pad = dur }
}

// Detector implements vad.Detector backed by a Silero VAD ONNX session.
// It is safe for concurrent use; the streaming model state is guarded by a
// mutex, so concurrent Detect calls serialize.
type Detector struct {
	session *ort.DynamicAdvancedSession

	threshold  float32
	minSpeech  time.Duration
	minSilence time.Duration
	pad        time.Duration

	mu      sync.Mutex
	state   []float32
	context []float32
}

// New loads the Silero VAD model from modelPath and returns a ready
// Detector. The caller must call Close when the detector is no longer
// needed.
func New(modelPath string, opts ...Option) (*Detector, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model file %q: %w", modelPath, err)
	}
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("silero: initialise onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	d := &Detector{
		session:    session,
		threshold:  0.5,
		minSpeech:  250 * time.Millisecond,
		minSilence: 100 * time.Millisecond,
		pad:        30 * time.Millisecond,
		state:      make([]float32, stateSize),
		context:    make([]float32, contextSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Close releases the ONNX session. The detector must not be used afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// Detect classifies samples window by window and returns the merged speech
// spans as half-open sample ranges. The model state is reset first so the
// result depends only on this buffer.
func (d *Detector) Detect(ctx context.Context, samples []float32) ([]types.SpeechSpan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, capability.Unavailable("silero: detect", errors.New("detector is closed"))
	}
	d.resetState()

	minSpeechSamples := durationToSamples(d.minSpeech)
	minSilenceWindows := max(1, durationToSamples(d.minSilence)/windowSize)
	padSamples := durationToSamples(d.pad)

	var (
		spans        []types.SpeechSpan
		current      *types.SpeechSpan
		silenceCount int
	)

	for offset := 0; offset < len(samples); offset += windowSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window := samples[offset:min(offset+windowSize, len(samples))]
		if len(window) < windowSize {
			padded := make([]float32, windowSize)
			copy(padded, window)
			window = padded
		}

		prob, err := d.infer(window)
		if err != nil {
			return nil, capability.Internal("silero: detect", err)
		}

		if prob >= d.threshold {
			silenceCount = 0
			if current == nil {
				current = &types.SpeechSpan{Start: max(0, offset-padSamples)}
			}
		} else if current != nil {
			silenceCount++
			if silenceCount >= minSilenceWindows {
				current.End = min(len(samples), offset-(silenceCount-1)*windowSize+padSamples)
				if current.Samples() >= minSpeechSamples {
					spans = append(spans, *current)
				}
				current = nil
				silenceCount = 0
			}
		}
	}

	if current != nil {
		current.End = len(samples)
		if current.Samples() >= minSpeechSamples {
			spans = append(spans, *current)
		}
	}

	return spans, nil
}

// resetState zeroes the LSTM state and sample context. Callers must hold mu.
func (d *Detector) resetState() {
	clear(d.state)
	clear(d.context)
}

// infer runs one 512-sample window through the model and returns the speech
// probability. Callers must hold mu; the LSTM state and context are updated
// in place.
func (d *Detector) infer(window []float32) (float32, error) {
	input := make([]float32, contextSize+len(window))
	copy(input[:contextSize], d.context)
	copy(input[contextSize:], window)
	copy(d.context, window[len(window)-contextSize:])

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), d.state)
	if err != nil {
		return 0, fmt.Errorf("create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		return 0, fmt.Errorf("create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := d.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	probData := outputs[0].(*ort.Tensor[float32]).GetData()
	copy(d.state, outputs[1].(*ort.Tensor[float32]).GetData())

	if len(probData) == 0 {
		return 0, errors.New("model returned no output")
	}
	return probData[0], nil
}

// durationToSamples converts a duration to a sample count at 16 kHz.
func durationToSamples(d time.Duration) int {
	return int(d.Seconds() * sampleRate)
}

// Compile-time assertion that Detector implements vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Command wernicke is the main entry point for the Wernicke transcription
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/wernicke/internal/audio"
	"github.com/MrWong99/wernicke/internal/config"
	"github.com/MrWong99/wernicke/internal/gpu"
	"github.com/MrWong99/wernicke/internal/logretain"
	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/internal/pipeline"
	"github.com/MrWong99/wernicke/internal/resilience"
	"github.com/MrWong99/wernicke/internal/server"
	"github.com/MrWong99/wernicke/internal/session"
	"github.com/MrWong99/wernicke/pkg/capability"
	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/capability/asr/whispercpp"
	"github.com/MrWong99/wernicke/pkg/capability/asr/whisperhttp"
	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/capability/correct/llmfix"
	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/capability/remote"
	"github.com/MrWong99/wernicke/pkg/capability/vad"
	"github.com/MrWong99/wernicke/pkg/capability/vad/silero"
	"github.com/MrWong99/wernicke/pkg/llm/anyllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wernicke: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wernicke: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logFile *logretain.Writer
	if cfg.Server.LogDir != "" {
		logFile, err = logretain.Open(cfg.Server.LogDir, logretain.Options{
			Retention: time.Duration(cfg.Server.LogRetentionDays) * 24 * time.Hour,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "wernicke: %v\n", err)
			return 1
		}
		defer logFile.Close()
	}
	logger := newLogger(cfg.Server.LogLevel, logFile)
	slog.SetDefault(logger)

	slog.Info("wernicke starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Capability registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinCapabilities(reg)

	// ── Instantiate capabilities ──────────────────────────────────────────────
	caps, err := buildCapabilities(cfg, reg)
	if err != nil {
		slog.Error("failed to build capabilities", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if logFile != nil {
		logFile.Start(ctx)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "wernicke",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── GPU supervisor and pipeline ───────────────────────────────────────────
	sup := gpu.NewSupervisor()
	registerCacheReleasers(sup, caps)

	// Refinement backends sit behind circuit breakers so a dead sidecar or
	// LLM fails fast and the pipeline degrades instead of stalling every
	// final on a timeout.
	if caps.Aligner != nil {
		caps.Aligner = resilience.NewAligner(caps.Aligner, resilience.CircuitBreakerConfig{Name: "aligner"})
	}
	if caps.Diarizer != nil {
		caps.Diarizer = resilience.NewDiarizer(caps.Diarizer, resilience.CircuitBreakerConfig{Name: "diarizer"})
	}
	if caps.Corrector != nil {
		caps.Corrector = resilience.NewCorrector(caps.Corrector, resilience.CircuitBreakerConfig{Name: "corrector"})
	}

	pipe, err := pipeline.New(caps, sup, pipeline.WithLanguage(cfg.Session.Language))
	if err != nil {
		slog.Error("failed to assemble pipeline", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	srv := server.New(pipe, sup, server.Options{
		Server: cfg.Server,
		Session: session.Config{
			Params: audio.Params{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
			},
			MaxBufferDuration: cfg.Session.MaxBufferDuration(),
			MinBufferDuration: cfg.Session.MinBufferDuration(),
			SilenceThreshold:  cfg.Session.SilenceThreshold(),
			SilenceRMS:        cfg.Session.SilenceRMSThreshold,
		},
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Capability wiring ─────────────────────────────────────────────────────────

// registerBuiltinCapabilities wires all built-in capability factories into
// reg. Each factory receives a config.CapabilityEntry and constructs the
// implementation from the real capability packages.
func registerBuiltinCapabilities(reg *config.Registry) {
	// Remote sidecar clients are shared per base URL so the aligner and
	// diarizer pointing at the same process reuse one connection pool and
	// one cache-release hook.
	remoteClients := map[string]*remote.Client{}
	sharedRemote := func(entry config.CapabilityEntry) (*remote.Client, error) {
		if c, ok := remoteClients[entry.BaseURL]; ok {
			return c, nil
		}
		var opts []remote.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, remote.WithLanguage(lang))
		}
		c, err := remote.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		remoteClients[entry.BaseURL] = c
		return c, nil
	}

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.CapabilityEntry) (vad.Detector, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []silero.Option
		if t := optFloat(entry.Options, "threshold"); t > 0 {
			opts = append(opts, silero.WithThreshold(float32(t)))
		}
		if d := optFloat(entry.Options, "min_speech_seconds"); d > 0 {
			opts = append(opts, silero.WithMinSpeechDuration(time.Duration(d*float64(time.Second))))
		}
		if d := optFloat(entry.Options, "min_silence_seconds"); d > 0 {
			opts = append(opts, silero.WithMinSilenceDuration(time.Duration(d*float64(time.Second))))
		}
		return silero.New(modelPath, opts...)
	})

	reg.RegisterVAD("always", func(config.CapabilityEntry) (vad.Detector, error) {
		return vad.Always{}, nil
	})

	// ── Recognizer ────────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper", func(entry config.CapabilityEntry) (asr.Recognizer, error) {
		var opts []whisperhttp.Option
		if entry.Model != "" {
			opts = append(opts, whisperhttp.WithModel(entry.Model))
		}
		return whisperhttp.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.CapabilityEntry) (asr.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whispercpp.New(modelPath)
	})

	// ── Aligner ───────────────────────────────────────────────────────────────

	reg.RegisterAligner("remote", func(entry config.CapabilityEntry) (align.Aligner, error) {
		return sharedRemote(entry)
	})

	reg.RegisterAligner("none", func(config.CapabilityEntry) (align.Aligner, error) {
		return align.Nop{}, nil
	})

	// ── Diarizer ──────────────────────────────────────────────────────────────

	reg.RegisterDiarizer("remote", func(entry config.CapabilityEntry) (diarize.Diarizer, error) {
		return sharedRemote(entry)
	})

	reg.RegisterDiarizer("static", func(entry config.CapabilityEntry) (diarize.Diarizer, error) {
		label := optString(entry.Options, "speaker")
		return diarize.Static{Label: label}, nil
	})

	// ── Corrector ─────────────────────────────────────────────────────────────
	// All LLM backends share the any-llm wiring: optional APIKey + BaseURL.

	for _, backendName := range []string{
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterCorrector(backendName, func(entry config.CapabilityEntry) (correct.Corrector, error) {
			var llmOpts []anyllmlib.Option
			if entry.APIKey != "" {
				llmOpts = append(llmOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				llmOpts = append(llmOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			provider, err := anyllm.New(backendName, entry.Model, llmOpts...)
			if err != nil {
				return nil, err
			}
			var opts []llmfix.Option
			if t := optFloat(entry.Options, "temperature"); t > 0 {
				opts = append(opts, llmfix.WithTemperature(t))
			}
			if n := optFloat(entry.Options, "max_tokens"); n > 0 {
				opts = append(opts, llmfix.WithMaxTokens(int(n)))
			}
			return llmfix.New(provider, opts...), nil
		})
	}

	reg.RegisterCorrector("none", func(config.CapabilityEntry) (correct.Corrector, error) {
		return correct.Nop{}, nil
	})
}

// buildCapabilities instantiates all capabilities named in cfg using the
// registry and returns them bundled for the pipeline.
func buildCapabilities(cfg *config.Config, reg *config.Registry) (pipeline.Capabilities, error) {
	caps := pipeline.Capabilities{}

	if name := cfg.Capabilities.VAD.Name; name != "" {
		c, err := reg.CreateVAD(cfg.Capabilities.VAD)
		if err != nil {
			return caps, fmt.Errorf("create vad %q: %w", name, err)
		}
		caps.VAD = c
		slog.Info("capability created", "kind", "vad", "name", name)
	}

	if name := cfg.Capabilities.Recognizer.Name; name != "" {
		c, err := reg.CreateRecognizer(cfg.Capabilities.Recognizer)
		if err != nil {
			return caps, fmt.Errorf("create recognizer %q: %w", name, err)
		}
		caps.Recognizer = c
		slog.Info("capability created", "kind", "recognizer", "name", name)
	}

	if name := cfg.Capabilities.Aligner.Name; name != "" {
		c, err := reg.CreateAligner(cfg.Capabilities.Aligner)
		if err != nil {
			return caps, fmt.Errorf("create aligner %q: %w", name, err)
		}
		caps.Aligner = c
		slog.Info("capability created", "kind", "aligner", "name", name)
	}

	if name := cfg.Capabilities.Diarizer.Name; name != "" {
		c, err := reg.CreateDiarizer(cfg.Capabilities.Diarizer)
		if err != nil {
			return caps, fmt.Errorf("create diarizer %q: %w", name, err)
		}
		caps.Diarizer = c
		slog.Info("capability created", "kind", "diarizer", "name", name)
	}

	if name := cfg.Capabilities.Corrector.Name; name != "" {
		c, err := reg.CreateCorrector(cfg.Capabilities.Corrector)
		if err != nil {
			return caps, fmt.Errorf("create corrector %q: %w", name, err)
		}
		caps.Corrector = c
		slog.Info("capability created", "kind", "corrector", "name", name)
	}

	return caps, nil
}

// registerCacheReleasers hooks every capability that can drop GPU caches
// into the supervisor's out-of-memory recovery.
func registerCacheReleasers(sup *gpu.Supervisor, caps pipeline.Capabilities) {
	seen := map[any]bool{}
	for _, c := range []any{caps.VAD, caps.Recognizer, caps.Aligner, caps.Diarizer, caps.Corrector} {
		r, ok := c.(capability.CacheReleaser)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		sup.RegisterReleaser(r)
		slog.Debug("registered gpu cache releaser", "type", fmt.Sprintf("%T", c))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Wernicke — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printCapability("VAD", cfg.Capabilities.VAD.Name, cfg.Capabilities.VAD.Model)
	printCapability("Recognizer", cfg.Capabilities.Recognizer.Name, cfg.Capabilities.Recognizer.Model)
	printCapability("Aligner", cfg.Capabilities.Aligner.Name, "")
	printCapability("Diarizer", cfg.Capabilities.Diarizer.Name, "")
	printCapability("Corrector", cfg.Capabilities.Corrector.Name, cfg.Capabilities.Corrector.Model)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Session.Language)
	fmt.Printf("║  Buffer (s)      : %-19s ║\n",
		fmt.Sprintf("%.0f max / %.0f min", cfg.Session.MaxBufferSeconds, cfg.Session.MinBufferSeconds))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printCapability(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, logFile *logretain.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := io.Writer(os.Stderr)
	if logFile != nil {
		out = io.MultiWriter(os.Stderr, logFile)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a capability Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a numeric value from a capability Options map. YAML
// decodes numbers as int or float64 depending on their literal form.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

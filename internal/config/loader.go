package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidCapabilityNames lists known implementation names per capability kind.
// Used by [Validate] to warn about unrecognised names.
var ValidCapabilityNames = map[string][]string{
	"vad":        {"silero", "always"},
	"recognizer": {"whisper", "whisper-native"},
	"aligner":    {"remote", "none"},
	"diarizer":   {"remote", "static"},
	"corrector":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "none"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8000"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogRetentionDays == 0 {
		cfg.Server.LogRetentionDays = 30
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.MaxBufferSeconds == 0 {
		cfg.Session.MaxBufferSeconds = 30
	}
	if cfg.Session.MinBufferSeconds == 0 {
		cfg.Session.MinBufferSeconds = 5
	}
	if cfg.Session.SilenceThresholdSeconds == 0 {
		cfg.Session.SilenceThresholdSeconds = 2
	}
	if cfg.Session.SilenceRMSThreshold == 0 {
		cfg.Session.SilenceRMSThreshold = 0.01
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "ja"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("server.log_retention_days %d must not be negative", cfg.Server.LogRetentionDays))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono input is accepted", cfg.Audio.Channels))
	}

	// Session
	if cfg.Session.MaxBufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.max_buffer_seconds %.1f must be positive", cfg.Session.MaxBufferSeconds))
	}
	if cfg.Session.MinBufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.min_buffer_seconds %.1f must be positive", cfg.Session.MinBufferSeconds))
	}
	if cfg.Session.MinBufferSeconds > cfg.Session.MaxBufferSeconds {
		errs = append(errs, fmt.Errorf("session.min_buffer_seconds %.1f exceeds max_buffer_seconds %.1f",
			cfg.Session.MinBufferSeconds, cfg.Session.MaxBufferSeconds))
	}
	if cfg.Session.SilenceThresholdSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.silence_threshold_seconds %.1f must be positive", cfg.Session.SilenceThresholdSeconds))
	}

	// Capability name validation — warn for unknown names.
	validateCapabilityName("vad", cfg.Capabilities.VAD.Name)
	validateCapabilityName("recognizer", cfg.Capabilities.Recognizer.Name)
	validateCapabilityName("aligner", cfg.Capabilities.Aligner.Name)
	validateCapabilityName("diarizer", cfg.Capabilities.Diarizer.Name)
	validateCapabilityName("corrector", cfg.Capabilities.Corrector.Name)

	if cfg.Capabilities.Recognizer.Name == "" {
		errs = append(errs, errors.New("capabilities.recognizer.name is required"))
	}

	return errors.Join(errs...)
}

// validateCapabilityName logs a warning if name is non-empty and not found in
// the [ValidCapabilityNames] list for the given kind.
func validateCapabilityName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidCapabilityNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown capability name — may be a typo or third-party implementation",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

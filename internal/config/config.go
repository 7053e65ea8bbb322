// Package config provides the configuration schema, loader, and capability
// registry for the Wernicke transcription server.
package config

import "time"

// LogLevel controls log verbosity for the Wernicke server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Wernicke.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Session      SessionConfig      `yaml:"session"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
}

// ServerConfig holds network and logging settings for the Wernicke server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Defaults to ":8000".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	// LogDir is the directory session log files are written to. Empty
	// disables file logging.
	LogDir string `yaml:"log_dir"`

	// LogRetentionDays is how long log files are kept before the daily
	// sweep removes them. Defaults to 30.
	LogRetentionDays int `yaml:"log_retention_days"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the PCM format clients must stream.
type AudioConfig struct {
	// SampleRate is the expected sample rate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the expected channel count. Defaults to 1.
	Channels int `yaml:"channels"`
}

// SessionConfig tunes per-connection buffering and flush behaviour.
type SessionConfig struct {
	// MaxBufferSeconds caps a buffer before a forced flush. Defaults to 30.
	MaxBufferSeconds float64 `yaml:"max_buffer_seconds"`

	// MinBufferSeconds is the least audio a silence flush requires.
	// Defaults to 5.
	MinBufferSeconds float64 `yaml:"min_buffer_seconds"`

	// SilenceThresholdSeconds is the trailing silence that triggers a
	// flush. Defaults to 2.
	SilenceThresholdSeconds float64 `yaml:"silence_threshold_seconds"`

	// SilenceRMSThreshold is the full-scale RMS level below which a chunk
	// counts as silence. Defaults to 0.01.
	SilenceRMSThreshold float64 `yaml:"silence_rms_threshold"`

	// Language is the recognition language hint. Defaults to "ja".
	Language string `yaml:"language"`
}

// MaxBufferDuration returns MaxBufferSeconds as a [time.Duration].
func (s SessionConfig) MaxBufferDuration() time.Duration {
	return time.Duration(s.MaxBufferSeconds * float64(time.Second))
}

// MinBufferDuration returns MinBufferSeconds as a [time.Duration].
func (s SessionConfig) MinBufferDuration() time.Duration {
	return time.Duration(s.MinBufferSeconds * float64(time.Second))
}

// SilenceThreshold returns SilenceThresholdSeconds as a [time.Duration].
func (s SessionConfig) SilenceThreshold() time.Duration {
	return time.Duration(s.SilenceThresholdSeconds * float64(time.Second))
}

// CapabilitiesConfig declares which implementation to use for each pipeline
// stage. Each field selects a named capability registered in the [Registry].
type CapabilitiesConfig struct {
	VAD        CapabilityEntry `yaml:"vad"`
	Recognizer CapabilityEntry `yaml:"recognizer"`
	Aligner    CapabilityEntry `yaml:"aligner"`
	Diarizer   CapabilityEntry `yaml:"diarizer"`
	Corrector  CapabilityEntry `yaml:"corrector"`
}

// CapabilityEntry is the common configuration block shared by all capability
// kinds. The Name field is used to look up the constructor in the [Registry].
type CapabilityEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "silero").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the backend endpoint (inference server, sidecar, or
	// hosted API). Leave empty to use the implementation's default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend (e.g., "large-v3", a GGML
	// file path, or an LLM model name).
	Model string `yaml:"model"`

	// Options holds implementation-specific configuration values not
	// covered by the standard fields above. Values may be strings, numbers,
	// booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Package config handles loading and validation of hivestream configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a configuration value fails validation.
var ErrInvalid = errors.New("invalid config")

// Config represents the client and stub server configuration.
type Config struct {
	// APIBaseURL is the root URL of the task API.
	APIBaseURL string `json:"api_base_url" yaml:"api_base_url" toml:"api_base_url"`

	// AuthToken is a static bearer token.
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token" toml:"auth_token"`

	// TokenFile is read for the bearer token and reloaded when it changes.
	TokenFile string `json:"token_file,omitempty" yaml:"token_file" toml:"token_file"`

	// JWTSecret, when set, makes the client sign its own HS256 tokens and
	// the stub server require them.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret" toml:"jwt_secret"`

	// JWTSubject is the subject claim of signed tokens.
	JWTSubject string `json:"jwt_subject" yaml:"jwt_subject" toml:"jwt_subject"`

	// TokenTTLSeconds is the lifetime of signed tokens.
	TokenTTLSeconds int `json:"token_ttl_seconds" yaml:"token_ttl_seconds" toml:"token_ttl_seconds"`

	// RequestTimeoutSeconds bounds REST calls. Streams are not bounded.
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`

	// StreamReadSize is the buffer size for each read of a stream body.
	StreamReadSize int `json:"stream_read_size" yaml:"stream_read_size" toml:"stream_read_size"`

	// NumWorkers is the number of parallel snapshot fetches.
	NumWorkers int `json:"num_workers" yaml:"num_workers" toml:"num_workers"`

	// LogDirectory is the directory for log files.
	LogDirectory string `json:"log_directory" yaml:"log_directory" toml:"log_directory"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// AcceptEncoding is advertised on requests (e.g. "zstd, gzip").
	AcceptEncoding string `json:"accept_encoding" yaml:"accept_encoding" toml:"accept_encoding"`

	// StopGraceMS is how long a stop waits for the server's stopped event
	// before abandoning the stream. Zero abandons it immediately.
	StopGraceMS int `json:"stop_grace_ms" yaml:"stop_grace_ms" toml:"stop_grace_ms"`

	// RecordEvents writes every streamed event to a per-task log file.
	RecordEvents bool `json:"record_events" yaml:"record_events" toml:"record_events"`

	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
	Stub      StubConfig      `json:"stub" yaml:"stub" toml:"stub"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name"`
	Insecure    bool   `json:"insecure" yaml:"insecure" toml:"insecure"`
}

// StubConfig controls the local stub task server.
type StubConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`

	// StepDelayMS is the pause between emitted events.
	StepDelayMS int `json:"step_delay_ms" yaml:"step_delay_ms" toml:"step_delay_ms"`

	// Steps is the number of plan steps per task.
	Steps int `json:"steps" yaml:"steps" toml:"steps"`

	// FailStep makes the given zero-based step fail once, forcing a replan.
	// Negative disables it.
	FailStep int `json:"fail_step" yaml:"fail_step" toml:"fail_step"`

	// MaxAttempts bounds plan attempts, the first included.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`

	// TasksFile persists task records across restarts. Empty keeps them in
	// memory.
	TasksFile string `json:"tasks_file,omitempty" yaml:"tasks_file" toml:"tasks_file"`

	// StaticTokenHash is a bcrypt hash of an accepted opaque token.
	StaticTokenHash string `json:"static_token_hash,omitempty" yaml:"static_token_hash" toml:"static_token_hash"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:            "http://127.0.0.1:5000",
		JWTSubject:            "hivectl",
		TokenTTLSeconds:       900, // 15 minutes
		RequestTimeoutSeconds: 30,
		StreamReadSize:        4096,
		NumWorkers:            4,
		LogDirectory:          "./logs",
		LogLevel:              "info",
		AcceptEncoding:        "zstd, gzip",
		StopGraceMS:           2000,
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "hivestream",
			Insecure:    true,
		},
		Stub: StubConfig{
			ListenAddr:  "127.0.0.1:5000",
			StepDelayMS: 400,
			Steps:       3,
			FailStep:    -1,
			MaxAttempts: 2,
		},
	}
}

// Load reads configuration from path. The format follows the extension:
// .json (comments and trailing commas allowed), .yaml/.yml or .toml.
// If the file doesn't exist, it returns DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

// applyDefaults fills in default values for any fields that are zero/empty.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.APIBaseURL == "" {
		c.APIBaseURL = defaults.APIBaseURL
	}
	if c.JWTSubject == "" {
		c.JWTSubject = defaults.JWTSubject
	}
	if c.TokenTTLSeconds <= 0 {
		c.TokenTTLSeconds = defaults.TokenTTLSeconds
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if c.StreamReadSize <= 0 {
		c.StreamReadSize = defaults.StreamReadSize
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = defaults.NumWorkers
	}
	if c.LogDirectory == "" {
		c.LogDirectory = defaults.LogDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = defaults.Telemetry.Endpoint
	}
	if c.Stub.ListenAddr == "" {
		c.Stub.ListenAddr = defaults.Stub.ListenAddr
	}
	if c.Stub.Steps <= 0 {
		c.Stub.Steps = defaults.Stub.Steps
	}
	if c.StopGraceMS < 0 {
		c.StopGraceMS = 0
	}
	if c.Stub.MaxAttempts <= 0 {
		c.Stub.MaxAttempts = defaults.Stub.MaxAttempts
	}
	if c.Stub.StepDelayMS < 0 {
		c.Stub.StepDelayMS = 0
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("%w: num_workers must be at least 1, got %d", ErrInvalid, c.NumWorkers)
	}
	if c.NumWorkers > 10 {
		return fmt.Errorf("%w: num_workers should not exceed 10, got %d", ErrInvalid, c.NumWorkers)
	}
	if c.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("%w: request_timeout_seconds must be at least 1, got %d", ErrInvalid, c.RequestTimeoutSeconds)
	}
	if c.StreamReadSize < 64 {
		return fmt.Errorf("%w: stream_read_size must be at least 64, got %d", ErrInvalid, c.StreamReadSize)
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("%w: api_base_url must be an http(s) URL, got %q", ErrInvalid, c.APIBaseURL)
	}
	if c.AuthToken != "" && c.TokenFile != "" {
		return fmt.Errorf("%w: auth_token and token_file are mutually exclusive", ErrInvalid)
	}

	// Validate log level
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("%w: invalid log_level: %s (must be debug, info, warn, or error)", ErrInvalid, c.LogLevel)
	}

	return nil
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TokenTTL returns TokenTTLSeconds as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// StopGrace returns StopGraceMS as a duration.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMS) * time.Millisecond
}

// StepDelay returns the stub server's pause between events.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Stub.StepDelayMS) * time.Millisecond
}

// Save writes the configuration to path in the format implied by its extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

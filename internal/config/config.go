package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Generation    GenerationConfig    `yaml:"generation"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// CaptureConfig contains audio capture and chunking parameters
type CaptureConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	Channels      int     `yaml:"channels"`
	BitDepth      int     `yaml:"bit_depth"`
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds
	Device        string  `yaml:"device"`         // input device name (empty = default)
}

// TranscriptionConfig contains transcription oracle configuration
type TranscriptionConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // seconds
	Language string `yaml:"language"`
	Model    string `yaml:"model"`
}

// GenerationConfig contains note-generation oracle configuration
type GenerationConfig struct {
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	TokenTimeout int    `yaml:"token_timeout"` // seconds without a token before the stream is abandoned
}

// SchedulerConfig contains note regeneration pacing parameters
type SchedulerConfig struct {
	DebounceInterval float64 `yaml:"debounce_interval"` // seconds between regeneration request starts
	MaxOutOfOrder    int     `yaml:"max_out_of_order"`  // pending segments tolerated before arrival-order flush
	SessionTimeout   int     `yaml:"session_timeout"`   // seconds of inactivity before a session is abandoned
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Generation.Validate(); err != nil {
		return fmt.Errorf("generation config: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.SampleRate {
	case 8000, 16000, 44100, 48000:
	default:
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 44100, 48000], got %d", c.SampleRate)
	}

	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}

	if c.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", c.BitDepth)
	}

	if c.ChunkDuration < 1.0 || c.ChunkDuration > 5.0 {
		return fmt.Errorf("chunk_duration must be between 1 and 5 seconds, got %f", c.ChunkDuration)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates generation configuration
func (g *GenerationConfig) Validate() error {
	if g.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if g.TokenTimeout < 1 {
		return fmt.Errorf("token_timeout must be at least 1 second, got %d", g.TokenTimeout)
	}

	return nil
}

// Validate validates scheduler configuration
func (s *SchedulerConfig) Validate() error {
	if s.DebounceInterval <= 0 {
		return fmt.Errorf("debounce_interval must be positive, got %f", s.DebounceInterval)
	}

	if s.MaxOutOfOrder < 1 {
		return fmt.Errorf("max_out_of_order must be at least 1, got %d", s.MaxOutOfOrder)
	}

	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the chunk window duration as a time.Duration
func (c *CaptureConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.ChunkDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTokenTimeoutDuration returns the generation token timeout as a time.Duration
func (g *GenerationConfig) GetTokenTimeoutDuration() time.Duration {
	return time.Duration(g.TokenTimeout) * time.Second
}

// GetDebounceDuration returns the regeneration debounce window as a time.Duration
func (s *SchedulerConfig) GetDebounceDuration() time.Duration {
	return time.Duration(s.DebounceInterval * float64(time.Second))
}

// GetSessionTimeoutDuration returns the session inactivity timeout as a time.Duration
func (s *SchedulerConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

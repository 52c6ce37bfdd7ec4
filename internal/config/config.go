package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emmett/flux/internal/analysis"
	"github.com/emmett/flux/internal/audio"
	"github.com/emmett/flux/internal/dispatch"
)

// Config is the full application configuration. Every field is named and
// validated; updates re-derive dependent state through the component update
// methods instead of merging loose option maps.
type Config struct {
	// Audio capture settings
	Audio struct {
		SampleRate            int     `yaml:"sample_rate"`
		FFTSize               int     `yaml:"fft_size"`
		SmoothingTimeConstant float64 `yaml:"smoothing_time_constant"`
		Device                string  `yaml:"device"`
		Source                string  `yaml:"source"`
		EchoCancellation      bool    `yaml:"echo_cancellation"`
		NoiseSuppression      bool    `yaml:"noise_suppression"`
		AutoGainControl       bool    `yaml:"auto_gain_control"`
	} `yaml:"audio"`

	// Analysis pipeline settings
	Analysis struct {
		FrequencyRanges      []analysis.RangeSpec `yaml:"frequency_ranges"`
		SmoothingEnabled     bool                 `yaml:"smoothing_enabled"`
		SmoothingFactor      float64              `yaml:"smoothing_factor"`
		NormalizationEnabled bool                 `yaml:"normalization_enabled"`
		NormalizationMethod  string               `yaml:"normalization_method"`
		SpectrumResolution   int                  `yaml:"spectrum_resolution"`
		LogScale             bool                 `yaml:"log_scale"`
	} `yaml:"analysis"`

	// Beat detection settings
	Beat struct {
		HistorySize   int     `yaml:"history_size"`
		Threshold     float64 `yaml:"threshold"`
		MinEnergy     float64 `yaml:"min_energy"`
		MinIntervalMs int     `yaml:"min_interval_ms"`
	} `yaml:"beat"`

	// Reconnection settings
	Reconnect struct {
		DelayMs           int     `yaml:"delay_ms"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
		MaxDelayMs        int     `yaml:"max_delay_ms"`
		MaxAttempts       int     `yaml:"max_attempts"`
	} `yaml:"reconnect"`

	// Worker settings
	Worker struct {
		Enabled   bool `yaml:"enabled"`
		TimeoutMs int  `yaml:"timeout_ms"`
		MaxErrors int  `yaml:"max_errors"`
	} `yaml:"worker"`

	// Server settings
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Audio.SampleRate = 44100
	cfg.Audio.FFTSize = 2048
	cfg.Audio.SmoothingTimeConstant = 0.8
	cfg.Audio.Source = string(audio.SourceMicrophone)

	cfg.Analysis.FrequencyRanges = analysis.DefaultRanges()
	cfg.Analysis.SmoothingEnabled = true
	cfg.Analysis.SmoothingFactor = 0.7
	cfg.Analysis.NormalizationEnabled = true
	cfg.Analysis.NormalizationMethod = string(analysis.NormalizePeak)
	cfg.Analysis.SpectrumResolution = 64
	cfg.Analysis.LogScale = true

	beat := analysis.DefaultBeatConfig()
	cfg.Beat.HistorySize = beat.HistorySize
	cfg.Beat.Threshold = beat.Threshold
	cfg.Beat.MinEnergy = beat.MinEnergy
	cfg.Beat.MinIntervalMs = int(beat.MinInterval / time.Millisecond)

	cfg.Reconnect.DelayMs = 1000
	cfg.Reconnect.BackoffMultiplier = 2.0
	cfg.Reconnect.MaxDelayMs = 30000
	cfg.Reconnect.MaxAttempts = 5

	cfg.Worker.Enabled = true
	cfg.Worker.TimeoutMs = 5000
	cfg.Worker.MaxErrors = 3

	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8090

	return cfg
}

// Validate checks the configuration, delegating analysis checks to the
// derived analysis config.
func (c *Config) Validate() error {
	if c.Audio.FFTSize < 32 || c.Audio.FFTSize&(c.Audio.FFTSize-1) != 0 {
		return fmt.Errorf("audio.fft_size must be a power of two >= 32, got %d", c.Audio.FFTSize)
	}
	if c.Audio.SmoothingTimeConstant < 0 || c.Audio.SmoothingTimeConstant >= 1 {
		return fmt.Errorf("audio.smoothing_time_constant must be in [0, 1), got %g", c.Audio.SmoothingTimeConstant)
	}
	if !audio.SourceType(c.Audio.Source).Valid() {
		return fmt.Errorf("audio.source must be %q or %q, got %q",
			audio.SourceMicrophone, audio.SourceSystem, c.Audio.Source)
	}
	if c.Reconnect.DelayMs <= 0 || c.Reconnect.MaxDelayMs < c.Reconnect.DelayMs {
		return fmt.Errorf("reconnect delays are inconsistent: base %d ms, max %d ms",
			c.Reconnect.DelayMs, c.Reconnect.MaxDelayMs)
	}
	if c.Reconnect.BackoffMultiplier < 1 {
		return fmt.Errorf("reconnect.backoff_multiplier must be >= 1, got %g", c.Reconnect.BackoffMultiplier)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be positive, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Worker.TimeoutMs <= 0 {
		return fmt.Errorf("worker.timeout_ms must be positive, got %d", c.Worker.TimeoutMs)
	}
	if c.Worker.MaxErrors <= 0 {
		return fmt.Errorf("worker.max_errors must be positive, got %d", c.Worker.MaxErrors)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	ac := c.AnalysisConfig()
	return ac.Validate()
}

// AnalysisConfig derives the engine configuration shared by the worker and
// fallback paths.
func (c *Config) AnalysisConfig() analysis.Config {
	return analysis.Config{
		SampleRate:           c.Audio.SampleRate,
		BufferLength:         c.Audio.FFTSize / 2,
		Ranges:               c.Analysis.FrequencyRanges,
		SmoothingEnabled:     c.Analysis.SmoothingEnabled,
		SmoothingFactor:      c.Analysis.SmoothingFactor,
		NormalizationEnabled: c.Analysis.NormalizationEnabled,
		NormalizationMethod:  analysis.NormalizationMethod(c.Analysis.NormalizationMethod),
		SpectrumResolution:   c.Analysis.SpectrumResolution,
		LogScale:             c.Analysis.LogScale,
		Beat: analysis.BeatConfig{
			HistorySize: c.Beat.HistorySize,
			Threshold:   c.Beat.Threshold,
			MinEnergy:   c.Beat.MinEnergy,
			MinInterval: time.Duration(c.Beat.MinIntervalMs) * time.Millisecond,
		},
	}
}

// ReconnectConfig derives the capture reconnection parameters.
func (c *Config) ReconnectConfig() audio.ReconnectConfig {
	return audio.ReconnectConfig{
		BaseDelay:         time.Duration(c.Reconnect.DelayMs) * time.Millisecond,
		BackoffMultiplier: c.Reconnect.BackoffMultiplier,
		MaxDelay:          time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond,
		MaxAttempts:       c.Reconnect.MaxAttempts,
	}
}

// Constraints derives the stream acquisition constraints.
func (c *Config) Constraints() audio.Constraints {
	return audio.Constraints{
		SampleRate:       c.Audio.SampleRate,
		DeviceID:         c.Audio.Device,
		EchoCancellation: c.Audio.EchoCancellation,
		NoiseSuppression: c.Audio.NoiseSuppression,
		AutoGainControl:  c.Audio.AutoGainControl,
	}
}

// DispatchConfig derives the worker orchestration parameters.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		WorkerEnabled:   c.Worker.Enabled,
		InitTimeout:     2 * time.Second,
		WorkerTimeout:   time.Duration(c.Worker.TimeoutMs) * time.Millisecond,
		MaxWorkerErrors: c.Worker.MaxErrors,
		Engine:          c.AnalysisConfig(),
	}
}

// Load loads configuration from file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations.
// Priority: explicit path > ~/.fluxrc > /etc/flux/config.yaml.
func LoadWithFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(homeDir, ".fluxrc")
		if _, err := os.Stat(userConfigPath); err == nil {
			cfg, err := Load(userConfigPath)
			if err == nil {
				return cfg, nil
			}
		}
	}

	systemConfigPath := "/etc/flux/config.yaml"
	if _, err := os.Stat(systemConfigPath); err == nil {
		cfg, err := Load(systemConfigPath)
		if err == nil {
			return cfg, nil
		}
	}

	return DefaultConfig(), nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

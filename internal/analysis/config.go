package analysis

import (
	"fmt"
	"time"
)

// NormalizationMethod selects how per-range values are rescaled relative to a
// dynamic reference so output stays comparable across volume levels.
type NormalizationMethod string

const (
	NormalizePeak     NormalizationMethod = "peak"
	NormalizeRMS      NormalizationMethod = "rms"
	NormalizeAdaptive NormalizationMethod = "adaptive"
)

// RangeSpec defines a named frequency band mapped onto FFT bins.
// The slice order of range specs is significant: it decides the
// dominant-range tie-break.
type RangeSpec struct {
	Name   string  `json:"name" yaml:"name"`
	MinHz  float64 `json:"minHz" yaml:"min_hz"`
	MaxHz  float64 `json:"maxHz" yaml:"max_hz"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// BeatConfig holds beat detection parameters.
type BeatConfig struct {
	// HistorySize is the capacity of the rolling energy buffer
	HistorySize int `json:"historySize"`

	// Threshold is the energy-over-average ratio that triggers a beat
	Threshold float64 `json:"threshold"`

	// MinEnergy is the absolute energy floor below which no beat fires
	MinEnergy float64 `json:"minEnergy"`

	// MinInterval is the debounce window between reported beats
	MinInterval time.Duration `json:"minInterval"`
}

// Config holds the full analyzer + beat detector configuration for one epoch.
// All fields are explicit; updates go through Engine.Reconfigure which
// re-derives dependent state (bin maps, smoothing arrays).
type Config struct {
	// SampleRate of the captured audio in Hz
	SampleRate int `json:"sampleRate"`

	// BufferLength is the number of frequency bins per frame (fftSize / 2)
	BufferLength int `json:"bufferLength"`

	// Ranges are the named frequency bands, in priority order
	Ranges []RangeSpec `json:"ranges"`

	SmoothingEnabled bool    `json:"smoothingEnabled"`
	SmoothingFactor  float64 `json:"smoothingFactor"`

	NormalizationEnabled bool                `json:"normalizationEnabled"`
	NormalizationMethod  NormalizationMethod `json:"normalizationMethod"`

	// SpectrumResolution is the number of output spectrum bins
	SpectrumResolution int `json:"spectrumResolution"`

	// LogScale distributes spectrum bins logarithmically from 20 Hz to Nyquist
	LogScale bool `json:"logScale"`

	Beat BeatConfig `json:"beat"`
}

// DefaultRanges returns the standard bass/mids/treble band layout.
func DefaultRanges() []RangeSpec {
	return []RangeSpec{
		{Name: "bass", MinHz: 20, MaxHz: 250, Weight: 1.0},
		{Name: "mids", MinHz: 250, MaxHz: 4000, Weight: 1.0},
		{Name: "treble", MinHz: 4000, MaxHz: 20000, Weight: 1.0},
	}
}

// DefaultConfig returns an analyzer configuration for a 2048-point FFT
// at 44.1 kHz with the standard three-band layout.
func DefaultConfig() Config {
	return Config{
		SampleRate:           44100,
		BufferLength:         1024,
		Ranges:               DefaultRanges(),
		SmoothingEnabled:     true,
		SmoothingFactor:      0.7,
		NormalizationEnabled: true,
		NormalizationMethod:  NormalizePeak,
		SpectrumResolution:   64,
		LogScale:             true,
		Beat:                 DefaultBeatConfig(),
	}
}

// DefaultBeatConfig returns beat detection defaults: roughly one second of
// history at typical frame rates, with a 300 ms debounce.
func DefaultBeatConfig() BeatConfig {
	return BeatConfig{
		HistorySize: 43,
		Threshold:   1.3,
		MinEnergy:   0.1,
		MinInterval: 300 * time.Millisecond,
	}
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BufferLength <= 0 {
		return fmt.Errorf("buffer length must be positive, got %d", c.BufferLength)
	}
	if len(c.Ranges) == 0 {
		return fmt.Errorf("at least one frequency range is required")
	}
	seen := make(map[string]bool, len(c.Ranges))
	for i, r := range c.Ranges {
		if r.Name == "" {
			return fmt.Errorf("range %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate range name %q", r.Name)
		}
		seen[r.Name] = true
		if r.MinHz < 0 || r.MaxHz <= r.MinHz {
			return fmt.Errorf("range %q has invalid bounds [%g, %g]", r.Name, r.MinHz, r.MaxHz)
		}
		if r.Weight < 0 {
			return fmt.Errorf("range %q has negative weight %g", r.Name, r.Weight)
		}
	}
	if c.SmoothingFactor < 0 || c.SmoothingFactor >= 1 {
		return fmt.Errorf("smoothing factor must be in [0, 1), got %g", c.SmoothingFactor)
	}
	switch c.NormalizationMethod {
	case NormalizePeak, NormalizeRMS, NormalizeAdaptive:
	default:
		return fmt.Errorf("unknown normalization method %q", c.NormalizationMethod)
	}
	if c.SpectrumResolution <= 0 {
		return fmt.Errorf("spectrum resolution must be positive, got %d", c.SpectrumResolution)
	}
	if c.Beat.HistorySize <= 0 {
		return fmt.Errorf("beat history size must be positive, got %d", c.Beat.HistorySize)
	}
	if c.Beat.Threshold <= 0 {
		return fmt.Errorf("beat threshold must be positive, got %g", c.Beat.Threshold)
	}
	if c.Beat.MinEnergy < 0 {
		return fmt.Errorf("beat minimum energy must not be negative, got %g", c.Beat.MinEnergy)
	}
	if c.Beat.MinInterval < 0 {
		return fmt.Errorf("beat minimum interval must not be negative, got %v", c.Beat.MinInterval)
	}
	return nil
}

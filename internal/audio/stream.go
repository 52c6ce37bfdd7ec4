package audio

import (
	"context"
	"time"
)

// SourceType identifies which kind of audio input to capture.
type SourceType string

const (
	// SourceMicrophone captures from a physical input device
	SourceMicrophone SourceType = "microphone"

	// SourceSystem captures system playback audio via a loopback device
	SourceSystem SourceType = "system"
)

// Other returns the complementary source type, used for fallback attempts.
func (s SourceType) Other() SourceType {
	if s == SourceMicrophone {
		return SourceSystem
	}
	return SourceMicrophone
}

// Valid reports whether the source type is one of the known values.
func (s SourceType) Valid() bool {
	return s == SourceMicrophone || s == SourceSystem
}

// Constraints are the stream acquisition parameters. Signal conditioning is
// disabled by default so the analysis pipeline sees the unprocessed signal.
type Constraints struct {
	// SampleRate in Hz, default 44100
	SampleRate int

	// DeviceID selects a specific device; empty uses the default
	DeviceID string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns the standard acquisition parameters: 44.1 kHz,
// default device, all conditioning off.
func DefaultConstraints() Constraints {
	return Constraints{SampleRate: 44100}
}

// Sample is one chunk of captured PCM audio.
type Sample struct {
	// Data is raw 16-bit little-endian mono PCM
	Data []byte

	// Frames is the number of audio frames in this sample
	Frames uint32

	Timestamp time.Time
}

// Stream is a live audio connection. Exactly one Stream is active at a time,
// exclusively owned by the CaptureSource that acquired it; Stop releases the
// underlying device and is the single release path.
type Stream interface {
	// Live reports whether the device is still delivering audio
	Live() bool

	// Samples returns the channel of captured PCM chunks. The channel is
	// closed when the stream stops.
	Samples() <-chan Sample

	// Stop releases the device. Safe to call more than once.
	Stop() error
}

// StreamProvider is the factory boundary for obtaining raw audio streams.
// The production implementation is MalgoProvider; tests substitute fakes.
type StreamProvider interface {
	// Acquire opens a stream of the given source type. Failures are
	// reported as *CaptureError.
	Acquire(ctx context.Context, source SourceType, c Constraints) (Stream, error)

	// Supports reports whether this provider can attempt the source type.
	// Capability detection happens once at provider construction.
	Supports(source SourceType) bool
}

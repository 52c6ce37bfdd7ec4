package audio

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// sampleChannelDepth buffers captured chunks so a slow consumer does not
// stall the device callback.
const sampleChannelDepth = 16

// MalgoProvider is the production StreamProvider over the malgo backend.
// Loopback (system-audio) support is feature-tested once at construction
// and never re-probed; unsupported sources are never attempted.
type MalgoProvider struct {
	ctx              *malgo.AllocatedContext
	supportsLoopback bool
}

// NewMalgoProvider initializes the audio backend and detects capabilities.
func NewMalgoProvider() (*MalgoProvider, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, NewCaptureError(ErrUnsupported, "audio backend unavailable", err)
	}
	return &MalgoProvider{
		ctx: ctx,
		// Loopback capture is a WASAPI feature
		supportsLoopback: runtime.GOOS == "windows",
	}, nil
}

// Supports reports whether the provider can attempt the given source type.
func (p *MalgoProvider) Supports(source SourceType) bool {
	switch source {
	case SourceMicrophone:
		return true
	case SourceSystem:
		return p.supportsLoopback
	default:
		return false
	}
}

// Acquire opens a capture or loopback device per the constraints and starts
// delivering PCM chunks on the stream's sample channel.
func (p *MalgoProvider) Acquire(ctx context.Context, source SourceType, c Constraints) (Stream, error) {
	if !source.Valid() {
		return nil, NewCaptureError(ErrUnsupported, fmt.Sprintf("unknown source type %q", source), nil)
	}
	if !p.Supports(source) {
		return nil, NewCaptureError(ErrUnsupported,
			fmt.Sprintf("%s capture is not supported on this platform", source), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewCaptureError(ErrTimeout, "acquisition cancelled", err)
	}

	deviceType := malgo.Capture
	if source == SourceSystem {
		deviceType = malgo.Loopback
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.PeriodSizeInFrames = 1024
	deviceConfig.Alsa.NoMMap = 1

	if c.DeviceID != "" {
		id, err := p.resolveDeviceID(c.DeviceID)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	stream := &malgoStream{
		samples: make(chan Sample, sampleChannelDepth),
		live:    true,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			data := make([]byte, len(pInput))
			copy(data, pInput)
			stream.deliver(Sample{Data: data, Frames: frameCount, Timestamp: time.Now()})
		},
		Stop: func() {
			stream.markDead()
		},
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, NewCaptureError(classifyDeviceError(err),
			fmt.Sprintf("failed to open %s device", source), err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, NewCaptureError(classifyDeviceError(err),
			fmt.Sprintf("failed to start %s device", source), err)
	}

	return stream, nil
}

// Close releases the backend context. Streams must be stopped first.
func (p *MalgoProvider) Close() {
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}

// resolveDeviceID matches a device name or ID against the enumerated
// capture devices.
func (p *MalgoProvider) resolveDeviceID(nameOrID string) (malgo.DeviceID, error) {
	var zero malgo.DeviceID
	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return zero, NewCaptureError(ErrHardware, "failed to enumerate devices", err)
	}
	for i := range infos {
		if infos[i].Name() == nameOrID || infos[i].ID.String() == nameOrID {
			return infos[i].ID, nil
		}
	}
	return zero, NewCaptureError(ErrDeviceAbsent,
		fmt.Sprintf("device %q not found", nameOrID), nil)
}

// malgoStream owns one malgo device. Stop is the only release path.
type malgoStream struct {
	device  *malgo.Device
	samples chan Sample

	mu      sync.RWMutex
	live    bool
	stopped bool
}

func (s *malgoStream) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *malgoStream) Samples() <-chan Sample {
	return s.samples
}

// Stop stops and releases the device. The sample channel is closed after
// the device has fully stopped, so no callback can race the close.
func (s *malgoStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.live = false
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	close(s.samples)
	return nil
}

// deliver forwards a sample without blocking the device callback; chunks
// are dropped when the consumer falls behind.
func (s *malgoStream) deliver(sample Sample) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.samples <- sample:
	default:
	}
}

// markDead flags a stream whose device stopped on its own (for example the
// hardware was unplugged). The health check picks this up within a second.
func (s *malgoStream) markDead() {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
}

package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// healthInterval is how often the active stream is checked for liveness.
const healthInterval = time.Second

// ConnectionState is the capture connection lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ReconnectConfig controls the automatic-reconnection backoff.
type ReconnectConfig struct {
	// BaseDelay before the first reconnect attempt
	BaseDelay time.Duration

	// BackoffMultiplier applied per attempt: delay = base × mult^(attempt-1)
	BackoffMultiplier float64

	// MaxDelay caps the computed delay
	MaxDelay time.Duration

	// MaxAttempts before transitioning to Failed
	MaxAttempts int
}

// DefaultReconnectConfig returns 1 s base delay doubling up to 30 s, five
// attempts.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
	}
}

// Callbacks are the push-style notifications exposed to the consumer.
// They are invoked synchronously but never while internal locks are held,
// so a callback may call back into the CaptureSource.
type Callbacks struct {
	OnSourceChange     func(source SourceType, stream Stream)
	OnConnectionChange func(connected bool, source SourceType)
	OnError            func(err *CaptureError)
	OnReconnectAttempt func(attempt, maxAttempts int, delay time.Duration)
}

// ConnectOptions modify a Connect call.
type ConnectOptions struct {
	// AllowFallback permits one attempt at the complementary source type
	// when the requested one fails
	AllowFallback bool

	// Constraints for stream acquisition; zero value uses defaults
	Constraints Constraints
}

// ConnectResult reports the outcome of Connect or SwitchSource.
type ConnectResult struct {
	Success        bool
	Source         SourceType
	FallbackUsed   bool
	OriginalSource SourceType

	// Restored is set by SwitchSource when the previous source was
	// re-established after the switch failed
	Restored bool

	Err *CaptureError
}

// CaptureSource owns the single active audio input connection and its
// reconnection state machine. All stream acquisition and release flows
// through it, so exactly one release path exists.
type CaptureSource struct {
	provider StreamProvider
	clock    Clock
	cfg      ReconnectConfig
	cb       Callbacks

	mu             sync.Mutex
	state          ConnectionState
	source         SourceType
	constraints    Constraints
	stream         Stream
	attempt        int
	lastErr        *CaptureError
	reconnecting   bool
	reconnectTimer Timer
	healthTicker   Ticker
	healthDone     chan struct{}
}

// NewCaptureSource creates a disconnected capture source. A nil clock uses
// the system clock.
func NewCaptureSource(provider StreamProvider, cfg ReconnectConfig, cb Callbacks, clock Clock) *CaptureSource {
	if clock == nil {
		clock = SystemClock()
	}
	return &CaptureSource{
		provider: provider,
		clock:    clock,
		cfg:      cfg,
		cb:       cb,
		state:    StateDisconnected,
	}
}

// Connect establishes a stream of the requested source type. If already
// connected, the existing stream is released first. On failure with
// fallback allowed, the complementary source is attempted once.
func (s *CaptureSource) Connect(ctx context.Context, source SourceType, opts ConnectOptions) ConnectResult {
	var notify []func()
	defer runAll(&notify)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !source.Valid() {
		err := NewCaptureError(ErrUnsupported, fmt.Sprintf("unknown source type %q", source), nil)
		return ConnectResult{Source: source, OriginalSource: source, Err: err}
	}

	if s.stream != nil || s.reconnecting {
		notify = append(notify, s.teardownLocked()...)
	}

	s.state = StateConnecting
	s.constraints = normalizeConstraints(opts.Constraints)

	stream, cerr := s.acquireLocked(ctx, source)
	effective := source
	fallbackUsed := false

	if cerr != nil && opts.AllowFallback && s.provider.Supports(source.Other()) {
		stream, cerr = s.acquireLocked(ctx, source.Other())
		if cerr == nil {
			effective = source.Other()
			fallbackUsed = true
		}
	}

	if cerr != nil {
		s.state = StateDisconnected
		s.lastErr = cerr
		notify = append(notify, s.errorNotification(cerr))
		return ConnectResult{Source: source, OriginalSource: source, Err: cerr}
	}

	notify = append(notify, s.establishLocked(effective, stream)...)
	return ConnectResult{
		Success:        true,
		Source:         effective,
		FallbackUsed:   fallbackUsed,
		OriginalSource: source,
	}
}

// SwitchSource changes to a new source type with fallback disabled. When
// the new source cannot be acquired, the previous source is restored if
// possible; Restored reports whether that succeeded.
func (s *CaptureSource) SwitchSource(ctx context.Context, newType SourceType) ConnectResult {
	var notify []func()
	defer runAll(&notify)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !newType.Valid() {
		err := NewCaptureError(ErrUnsupported, fmt.Sprintf("unknown source type %q", newType), nil)
		return ConnectResult{Source: newType, Err: err}
	}

	prev := s.source
	hadStream := s.stream != nil

	if s.state == StateConnected && newType == s.source {
		return ConnectResult{Success: true, Source: newType, OriginalSource: prev}
	}

	notify = append(notify, s.teardownLocked()...)
	s.state = StateConnecting

	stream, cerr := s.acquireLocked(ctx, newType)
	if cerr == nil {
		notify = append(notify, s.establishLocked(newType, stream)...)
		return ConnectResult{Success: true, Source: newType, OriginalSource: prev}
	}

	s.lastErr = cerr
	result := ConnectResult{Source: newType, OriginalSource: prev, Err: cerr}
	notify = append(notify, s.errorNotification(cerr))

	if hadStream && prev.Valid() {
		restored, rerr := s.acquireLocked(ctx, prev)
		if rerr == nil {
			notify = append(notify, s.establishLocked(prev, restored)...)
			result.Restored = true
			return result
		}
	}

	s.state = StateDisconnected
	return result
}

// Disconnect releases the active stream, cancels any pending reconnection
// and returns to Disconnected.
func (s *CaptureSource) Disconnect() {
	var notify []func()
	defer runAll(&notify)

	s.mu.Lock()
	defer s.mu.Unlock()
	notify = s.teardownLocked()
	s.state = StateDisconnected
}

// State returns the current connection state.
func (s *CaptureSource) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Source returns the source type of the current or most recent connection.
func (s *CaptureSource) Source() SourceType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Stream returns the active stream, or nil when not connected.
func (s *CaptureSource) Stream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// LastError returns the most recent capture error.
func (s *CaptureSource) LastError() *CaptureError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ReconnectAttempt returns the current reconnection attempt counter.
func (s *CaptureSource) ReconnectAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// acquireLocked requests a stream from the provider, converting any plain
// error into a structured CaptureError. Unsupported sources are rejected
// without attempting acquisition.
func (s *CaptureSource) acquireLocked(ctx context.Context, source SourceType) (Stream, *CaptureError) {
	if !s.provider.Supports(source) {
		return nil, NewCaptureError(ErrUnsupported,
			fmt.Sprintf("%s capture is not available", source), nil)
	}
	stream, err := s.provider.Acquire(ctx, source, s.constraints)
	if err != nil {
		if cerr, ok := err.(*CaptureError); ok {
			return nil, cerr
		}
		return nil, NewCaptureError(classifyDeviceError(err),
			fmt.Sprintf("failed to acquire %s stream", source), err)
	}
	return stream, nil
}

// establishLocked records a successful (re)connect: the attempt counter
// resets to zero and the 1 Hz health check starts.
func (s *CaptureSource) establishLocked(source SourceType, stream Stream) []func() {
	s.stream = stream
	s.source = source
	s.state = StateConnected
	s.attempt = 0
	s.reconnecting = false
	s.lastErr = nil
	s.startHealthLocked()

	cb := s.cb
	return []func(){func() {
		if cb.OnSourceChange != nil {
			cb.OnSourceChange(source, stream)
		}
		if cb.OnConnectionChange != nil {
			cb.OnConnectionChange(true, source)
		}
	}}
}

// teardownLocked stops timers and releases the stream. It returns the
// disconnect notification when a live connection was dropped.
func (s *CaptureSource) teardownLocked() []func() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnecting = false
	s.stopHealthLocked()

	wasConnected := s.state == StateConnected
	if s.stream != nil {
		_ = s.stream.Stop()
		s.stream = nil
	}
	if !wasConnected {
		return nil
	}
	cb := s.cb
	source := s.source
	return []func(){func() {
		if cb.OnConnectionChange != nil {
			cb.OnConnectionChange(false, source)
		}
	}}
}

// handleStreamEnded reacts to an unexpectedly dead stream. Single-flight: a
// second call while a reconnection is in flight is a no-op.
func (s *CaptureSource) handleStreamEnded() {
	var notify []func()
	defer runAll(&notify)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconnecting || s.state != StateConnected {
		return
	}
	s.reconnecting = true
	s.state = StateReconnecting
	s.stopHealthLocked()
	if s.stream != nil {
		_ = s.stream.Stop()
		s.stream = nil
	}

	cb := s.cb
	source := s.source
	notify = append(notify, func() {
		if cb.OnConnectionChange != nil {
			cb.OnConnectionChange(false, source)
		}
	})
	notify = append(notify, s.scheduleReconnectLocked()...)
}

// scheduleReconnectLocked advances the attempt counter and either arms the
// backoff timer or, past the attempt limit, transitions to Failed with a
// terminal error.
func (s *CaptureSource) scheduleReconnectLocked() []func() {
	s.attempt++
	if s.attempt > s.cfg.MaxAttempts {
		s.state = StateFailed
		s.reconnecting = false
		cerr := NewCaptureError(ErrConnectionLost,
			fmt.Sprintf("reconnection failed after %d attempts", s.cfg.MaxAttempts), nil)
		s.lastErr = cerr
		return []func(){s.errorNotification(cerr)}
	}

	attempt := s.attempt
	delay := s.reconnectDelay(attempt)
	s.reconnectTimer = s.clock.AfterFunc(delay, s.attemptReconnect)

	cb := s.cb
	maxAttempts := s.cfg.MaxAttempts
	return []func(){func() {
		if cb.OnReconnectAttempt != nil {
			cb.OnReconnectAttempt(attempt, maxAttempts, delay)
		}
	}}
}

// attemptReconnect runs on timer expiry and tries to re-acquire the current
// source.
func (s *CaptureSource) attemptReconnect() {
	var notify []func()
	defer runAll(&notify)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReconnecting {
		return
	}
	stream, cerr := s.acquireLocked(context.Background(), s.source)
	if cerr == nil {
		notify = append(notify, s.establishLocked(s.source, stream)...)
		return
	}
	s.lastErr = cerr
	notify = append(notify, s.scheduleReconnectLocked()...)
}

// reconnectDelay computes min(base × mult^(attempt-1), max).
func (s *CaptureSource) reconnectDelay(attempt int) time.Duration {
	mult := math.Pow(s.cfg.BackoffMultiplier, float64(attempt-1))
	delay := time.Duration(float64(s.cfg.BaseDelay) * mult)
	if delay > s.cfg.MaxDelay || delay < 0 {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// startHealthLocked begins the 1 Hz liveness check of the active stream.
func (s *CaptureSource) startHealthLocked() {
	s.stopHealthLocked()
	ticker := s.clock.NewTicker(healthInterval)
	done := make(chan struct{})
	s.healthTicker = ticker
	s.healthDone = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				s.healthCheck()
			}
		}
	}()
}

func (s *CaptureSource) stopHealthLocked() {
	if s.healthTicker != nil {
		s.healthTicker.Stop()
		s.healthTicker = nil
	}
	if s.healthDone != nil {
		close(s.healthDone)
		s.healthDone = nil
	}
}

// healthCheck verifies the stream is still live; a dead stream triggers the
// reconnection state machine.
func (s *CaptureSource) healthCheck() {
	s.mu.Lock()
	ended := s.state == StateConnected && (s.stream == nil || !s.stream.Live())
	s.mu.Unlock()

	if ended {
		s.handleStreamEnded()
	}
}

// errorNotification wraps the error callback for deferred invocation.
func (s *CaptureSource) errorNotification(cerr *CaptureError) func() {
	cb := s.cb
	return func() {
		if cb.OnError != nil {
			cb.OnError(cerr)
		}
	}
}

func normalizeConstraints(c Constraints) Constraints {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultConstraints().SampleRate
	}
	return c
}

// runAll invokes queued notifications in order. Used with defer so
// callbacks fire after the state lock is released.
func runAll(fns *[]func()) {
	for _, fn := range *fns {
		fn()
	}
}

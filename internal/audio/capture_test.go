package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the reconnection state machine deterministically.
// Advance fires due timers synchronously on the calling goroutine.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward and runs every timer that came due, in
// scheduling order, outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// lastTicker returns the most recently created ticker.
func (c *fakeClock) lastTicker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func (t *fakeTicker) tick() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

// fakeProvider hands out fakeStreams and can be told to fail per source type.
type fakeProvider struct {
	mu       sync.Mutex
	failures map[SourceType]error
	support  map[SourceType]bool
	acquired int
	streams  []*fakeStream
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failures: make(map[SourceType]error),
		support: map[SourceType]bool{
			SourceMicrophone: true,
			SourceSystem:     true,
		},
	}
}

func (p *fakeProvider) failWith(source SourceType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[source] = err
}

func (p *fakeProvider) succeed(source SourceType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, source)
}

func (p *fakeProvider) Acquire(_ context.Context, source SourceType, _ Constraints) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[source]; err != nil {
		return nil, err
	}
	s := &fakeStream{live: true, ch: make(chan Sample)}
	p.streams = append(p.streams, s)
	p.acquired++
	return s, nil
}

func (p *fakeProvider) Supports(source SourceType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.support[source]
}

type fakeStream struct {
	mu   sync.Mutex
	live bool
	ch   chan Sample
	once sync.Once
}

func (s *fakeStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeStream) Samples() <-chan Sample { return s.ch }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
	return nil
}

// markDead simulates device loss without going through Stop.
func (s *fakeStream) markDead() {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
}

// callbackRecorder captures every notification. All callbacks may arrive on
// goroutines other than the test's.
type callbackRecorder struct {
	mu            sync.Mutex
	sources       []SourceType
	connections   []bool
	captureErrors []*CaptureError
	attempts      []int
	delays        []time.Duration
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnSourceChange: func(source SourceType, _ Stream) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sources = append(r.sources, source)
		},
		OnConnectionChange: func(connected bool, _ SourceType) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connections = append(r.connections, connected)
		},
		OnError: func(err *CaptureError) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.captureErrors = append(r.captureErrors, err)
		},
		OnReconnectAttempt: func(attempt, _ int, delay time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.attempts = append(r.attempts, attempt)
			r.delays = append(r.delays, delay)
		},
	}
}

func (r *callbackRecorder) recordedDelays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (r *callbackRecorder) recordedAttempts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func (r *callbackRecorder) lastError() *CaptureError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.captureErrors) == 0 {
		return nil
	}
	return r.captureErrors[len(r.captureErrors)-1]
}

func newTestSource(provider StreamProvider, rec *callbackRecorder, clock Clock) *CaptureSource {
	return NewCaptureSource(provider, DefaultReconnectConfig(), rec.callbacks(), clock)
}

func TestConnectMicrophone(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())
	defer src.Disconnect()

	result := src.Connect(context.Background(), SourceMicrophone, ConnectOptions{})
	require.True(t, result.Success)
	assert.Equal(t, SourceMicrophone, result.Source)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, StateConnected, src.State())
	assert.NotNil(t, src.Stream())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []SourceType{SourceMicrophone}, rec.sources)
	assert.Equal(t, []bool{true}, rec.connections)
}

func TestConnectPermissionDenied(t *testing.T) {
	provider := newFakeProvider()
	provider.failWith(SourceMicrophone, NewCaptureError(ErrPermission, "microphone access denied", nil))
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())

	result := src.Connect(context.Background(), SourceMicrophone, ConnectOptions{})
	require.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrPermission, result.Err.Kind)
	assert.NotEmpty(t, result.Err.Instructions)
	assert.Equal(t, StateDisconnected, src.State())
	assert.NotNil(t, rec.lastError())
}

func TestConnectFallsBackToSystemAudio(t *testing.T) {
	provider := newFakeProvider()
	provider.failWith(SourceMicrophone, NewCaptureError(ErrPermission, "microphone access denied", nil))
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())
	defer src.Disconnect()

	result := src.Connect(context.Background(), SourceMicrophone, ConnectOptions{AllowFallback: true})
	require.True(t, result.Success)
	assert.Equal(t, SourceSystem, result.Source)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, SourceMicrophone, result.OriginalSource)
	assert.Equal(t, SourceSystem, src.Source())
	assert.Equal(t, StateConnected, src.State())
}

func TestConnectFallbackUnsupported(t *testing.T) {
	provider := newFakeProvider()
	provider.support[SourceSystem] = false
	provider.failWith(SourceMicrophone, NewCaptureError(ErrDeviceAbsent, "no input device", nil))
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())

	result := src.Connect(context.Background(), SourceMicrophone, ConnectOptions{AllowFallback: true})
	require.False(t, result.Success)
	assert.Equal(t, ErrDeviceAbsent, result.Err.Kind)
	assert.Equal(t, StateDisconnected, src.State())
}

func TestConnectInvalidSource(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())

	result := src.Connect(context.Background(), SourceType("bogus"), ConnectOptions{})
	require.False(t, result.Success)
	assert.Equal(t, ErrUnsupported, result.Err.Kind)
}

func TestReconnectBackoffUntilFailed(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	clock := newFakeClock()
	src := newTestSource(provider, rec, clock)

	result := src.Connect(context.Background(), SourceMicrophone, ConnectOptions{})
	require.True(t, result.Success)

	provider.failWith(SourceMicrophone, NewCaptureError(ErrHardware, "device unplugged", nil))
	src.handleStreamEnded()
	require.Equal(t, StateReconnecting, src.State())

	// drive every scheduled attempt to expiry
	for i := 0; i < DefaultReconnectConfig().MaxAttempts; i++ {
		clock.Advance(time.Minute)
	}

	assert.Equal(t, StateFailed, src.State())
	require.NotNil(t, rec.lastError())
	assert.Equal(t, ErrConnectionLost, rec.lastError().Kind)

	attempts := rec.recordedAttempts()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)

	delays := rec.recordedDelays()
	require.Len(t, delays, 5)
	assert.Equal(t, time.Second, delays[0])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1], "backoff must not decrease")
		assert.LessOrEqual(t, delays[i], DefaultReconnectConfig().MaxDelay)
	}
}

func TestReconnectDelayCappedAtMax(t *testing.T) {
	cfg := ReconnectConfig{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
		MaxAttempts:       10,
	}
	src := NewCaptureSource(newFakeProvider(), cfg, Callbacks{}, newFakeClock())

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		5 * time.Second, 5 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, src.reconnectDelay(i+1), "attempt %d", i+1)
	}
}

func TestReconnectRecoveryResetsAttemptCounter(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	clock := newFakeClock()
	src := newTestSource(provider, rec, clock)
	defer src.Disconnect()

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)

	provider.failWith(SourceMicrophone, NewCaptureError(ErrHardware, "device unplugged", nil))
	src.handleStreamEnded()

	// two failed attempts, then the device comes back
	clock.Advance(time.Second)
	clock.Advance(2 * time.Second)
	assert.Equal(t, 3, src.ReconnectAttempt())

	provider.succeed(SourceMicrophone)
	clock.Advance(4 * time.Second)

	assert.Equal(t, StateConnected, src.State())
	assert.Equal(t, 0, src.ReconnectAttempt(), "attempt counter resets on success")
	assert.Nil(t, src.LastError())
}

func TestHandleStreamEndedSingleFlight(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	clock := newFakeClock()
	src := newTestSource(provider, rec, clock)

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)
	provider.failWith(SourceMicrophone, NewCaptureError(ErrHardware, "device unplugged", nil))

	src.handleStreamEnded()
	src.handleStreamEnded()
	src.handleStreamEnded()

	assert.Equal(t, []int{1}, rec.recordedAttempts(), "concurrent end events schedule exactly one attempt")
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	clock := newFakeClock()
	src := newTestSource(provider, rec, clock)

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)
	provider.failWith(SourceMicrophone, NewCaptureError(ErrHardware, "device unplugged", nil))
	src.handleStreamEnded()
	require.Equal(t, StateReconnecting, src.State())

	src.Disconnect()
	assert.Equal(t, StateDisconnected, src.State())

	before := len(rec.recordedAttempts())
	clock.Advance(time.Minute)
	assert.Len(t, rec.recordedAttempts(), before, "cancelled timer must not fire")
	assert.Equal(t, StateDisconnected, src.State())
}

func TestSwitchSource(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())
	defer src.Disconnect()

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)

	result := src.SwitchSource(context.Background(), SourceSystem)
	require.True(t, result.Success)
	assert.Equal(t, SourceSystem, src.Source())
	assert.Equal(t, SourceMicrophone, result.OriginalSource)
	assert.Equal(t, StateConnected, src.State())
}

func TestSwitchSourceSameTypeIsNoOp(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())
	defer src.Disconnect()

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)
	before := provider.acquired

	result := src.SwitchSource(context.Background(), SourceMicrophone)
	assert.True(t, result.Success)
	assert.Equal(t, before, provider.acquired, "no re-acquisition for the current source")
}

func TestSwitchSourceRestoresPreviousOnFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.failWith(SourceSystem, NewCaptureError(ErrUnsupported, "loopback unavailable", nil))
	rec := &callbackRecorder{}
	src := newTestSource(provider, rec, newFakeClock())
	defer src.Disconnect()

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)

	result := src.SwitchSource(context.Background(), SourceSystem)
	require.False(t, result.Success)
	assert.True(t, result.Restored)
	assert.Equal(t, ErrUnsupported, result.Err.Kind)
	assert.Equal(t, SourceMicrophone, src.Source())
	assert.Equal(t, StateConnected, src.State())
}

func TestHealthCheckDetectsDeadStream(t *testing.T) {
	provider := newFakeProvider()
	rec := &callbackRecorder{}
	clock := newFakeClock()
	src := newTestSource(provider, rec, clock)
	defer src.Disconnect()

	require.True(t, src.Connect(context.Background(), SourceMicrophone, ConnectOptions{}).Success)
	provider.failWith(SourceMicrophone, NewCaptureError(ErrHardware, "device unplugged", nil))

	provider.mu.Lock()
	stream := provider.streams[0]
	provider.mu.Unlock()
	stream.markDead()

	ticker := clock.lastTicker()
	require.NotNil(t, ticker)
	ticker.tick()

	assert.Eventually(t, func() bool {
		return src.State() == StateReconnecting
	}, time.Second, 5*time.Millisecond, "health check must notice the dead stream")
}

func TestClassifyDeviceError(t *testing.T) {
	tests := []struct {
		message string
		want    ErrorKind
	}{
		{"access denied by system", ErrPermission},
		{"no device found", ErrDeviceAbsent},
		{"format not supported by backend", ErrConstraints},
		{"device type not supported", ErrUnsupported},
		{"operation timeout", ErrTimeout},
		{"something exploded", ErrHardware},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDeviceError(errMessage(tt.message)))
		})
	}
}

type errMessage string

func (e errMessage) Error() string { return string(e) }

package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emmett/flux/internal/analysis"
)

// Mode is the active processing path.
type Mode string

const (
	// ModeWorker routes frames to the background worker
	ModeWorker Mode = "worker"

	// ModeFallback runs the equivalent engine inline on the caller
	ModeFallback Mode = "fallback"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("dispatcher closed")

// requestChannelDepth bounds in-flight worker requests.
const requestChannelDepth = 64

// Config controls worker orchestration.
type Config struct {
	// WorkerEnabled allows the background worker path at all
	WorkerEnabled bool

	// InitTimeout bounds the liveness round-trip at startup
	InitTimeout time.Duration

	// WorkerTimeout bounds each individual request
	WorkerTimeout time.Duration

	// MaxWorkerErrors is the consecutive-error threshold that permanently
	// activates fallback mode
	MaxWorkerErrors int

	// Engine is the analysis configuration shared by both paths
	Engine analysis.Config
}

// DefaultConfig returns worker-enabled defaults: 2 s init handshake, 5 s
// per-request timeout, fallback after 3 consecutive errors.
func DefaultConfig() Config {
	return Config{
		WorkerEnabled:   true,
		InitTimeout:     2 * time.Second,
		WorkerTimeout:   5 * time.Second,
		MaxWorkerErrors: 3,
		Engine:          analysis.DefaultConfig(),
	}
}

// PathStats accumulates per-path processing time for adaptive-quality
// decisions made by the consumer.
type PathStats struct {
	Frames      uint64        `json:"frames"`
	TotalTime   time.Duration `json:"totalTime"`
	AverageTime time.Duration `json:"averageTime"`
}

// Stats is a snapshot of dispatcher health and performance.
type Stats struct {
	Mode              Mode      `json:"mode"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	FallbackReason    string    `json:"fallbackReason,omitempty"`
	Worker            PathStats `json:"worker"`
	Fallback          PathStats `json:"fallback"`
}

// Manager routes per-frame processing to a background worker or,
// transparently, to an equivalent inline engine. Both paths run the same
// analysis.Engine implementation, so their outputs are numerically
// equivalent for identical input and configuration.
//
// The mode transition is monotonic: once fallback activates there is no
// automatic recovery back to worker mode within a session. A flapping
// worker is worse than a stable, slightly slower fallback.
type Manager struct {
	cfg        Config
	onFallback func(reason string)

	nextID atomic.Uint64

	mu                sync.Mutex
	mode              Mode
	fallbackReason    string
	consecutiveErrors int
	pending           map[uint64]chan response
	in                chan request
	closed            bool
	workerStats       PathStats
	fallbackStats     PathStats

	// fbMu serializes access to the inline engine
	fbMu     sync.Mutex
	fallback *analysis.Engine
}

// NewManager creates a dispatcher. onFallback, if non-nil, is invoked once
// when fallback mode permanently activates; it is informational, not fatal.
func NewManager(cfg Config, onFallback func(reason string)) *Manager {
	return &Manager{
		cfg:        cfg,
		onFallback: onFallback,
		mode:       ModeWorker,
		pending:    make(map[uint64]chan response),
	}
}

// Start initializes the inline engine and, when enabled, spawns the worker
// and performs the liveness handshake. Worker startup failure is not an
// error: the dispatcher activates fallback and keeps going.
func (m *Manager) Start() error {
	if err := m.cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	m.fallback = analysis.NewEngine()
	if err := m.fallback.Initialize(m.cfg.Engine); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if !m.cfg.WorkerEnabled {
		m.activateFallback("worker disabled by configuration")
		return nil
	}

	in := make(chan request, requestChannelDepth)
	out := make(chan response, requestChannelDepth)
	m.mu.Lock()
	m.in = in
	m.mu.Unlock()

	go runWorker(in, out)
	go m.dispatchResponses(out)

	// liveness round-trip, then push the configuration across
	if _, err := m.roundTrip(request{Type: msgTest}, m.cfg.InitTimeout); err != nil {
		m.activateFallback(fmt.Sprintf("worker health check failed: %v", err))
		return nil
	}
	cfg := m.cfg.Engine
	if _, err := m.roundTrip(request{Type: msgInitialize, Data: requestData{Config: &cfg}}, m.cfg.InitTimeout); err != nil {
		m.activateFallback(fmt.Sprintf("worker initialization failed: %v", err))
	}
	return nil
}

// ProcessFrame analyses one frame, transparently routed. The frame bytes
// are copied before crossing the worker boundary, so the caller may reuse
// its buffers.
func (m *Manager) ProcessFrame(freq, timeDomain []byte) (*analysis.FrameResult, error) {
	now := time.Now()

	if m.Mode() == ModeFallback {
		return m.processInline(freq, timeDomain, now)
	}

	start := time.Now()
	resp, err := m.roundTrip(request{
		Type: msgProcess,
		Data: requestData{
			Frequency:  cloneBytes(freq),
			TimeDomain: cloneBytes(timeDomain),
			Timestamp:  now,
		},
	}, m.cfg.WorkerTimeout)

	if err != nil {
		// Below the error threshold the frame is retried transparently on
		// the inline engine; above it the mode flips for good.
		m.recordWorkerError(err)
		return m.processInline(freq, timeDomain, now)
	}

	m.recordWorkerSuccess(time.Since(start))
	return resp.Data.Frame, nil
}

// UpdateConfig applies a new configuration epoch to both paths so they stay
// equivalent.
func (m *Manager) UpdateConfig(cfg analysis.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.fbMu.Lock()
	err := m.fallback.Reconfigure(cfg)
	m.fbMu.Unlock()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg.Engine = cfg
	m.mu.Unlock()

	if m.Mode() == ModeWorker {
		if _, err := m.roundTrip(request{Type: msgUpdateConfig, Data: requestData{Config: &cfg}}, m.cfg.WorkerTimeout); err != nil {
			m.recordWorkerError(err)
		}
	}
	return nil
}

// Reset clears per-frame state on both paths.
func (m *Manager) Reset() {
	m.fbMu.Lock()
	m.fallback.Reset()
	m.fbMu.Unlock()

	if m.Mode() == ModeWorker {
		if _, err := m.roundTrip(request{Type: msgReset}, m.cfg.WorkerTimeout); err != nil {
			m.recordWorkerError(err)
		}
	}
}

// Mode returns the active processing path.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Stats returns a snapshot of dispatcher health and per-path timing.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Mode:              m.mode,
		ConsecutiveErrors: m.consecutiveErrors,
		FallbackReason:    m.fallbackReason,
		Worker:            m.workerStats,
		Fallback:          m.fallbackStats,
	}
}

// Close shuts the worker down. Pending requests are rejected.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	in := m.in
	m.in = nil
	for id, ch := range m.pending {
		delete(m.pending, id)
		close(ch)
	}
	m.mu.Unlock()

	if in != nil {
		close(in)
	}
}

// roundTrip sends one request and waits for its correlated response or the
// timeout. A timeout rejects only this request; a late response for it is
// discarded by the dispatcher.
func (m *Manager) roundTrip(req request, timeout time.Duration) (response, error) {
	req.ID = m.nextID.Add(1)
	ch := make(chan response, 1)

	m.mu.Lock()
	if m.closed || m.in == nil {
		m.mu.Unlock()
		return response{}, ErrClosed
	}
	in := m.in
	m.pending[req.ID] = ch
	m.mu.Unlock()

	select {
	case in <- req:
	default:
		m.removePending(req.ID)
		return response{}, fmt.Errorf("worker queue full")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, ErrClosed
		}
		if resp.Error != "" {
			return response{}, errors.New(resp.Error)
		}
		return resp, nil
	case <-timer.C:
		m.removePending(req.ID)
		return response{}, fmt.Errorf("worker request %d timed out after %v", req.ID, timeout)
	}
}

func (m *Manager) removePending(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// dispatchResponses matches worker responses to pending requests by id.
// Unmatched or late responses are dropped.
func (m *Manager) dispatchResponses(out <-chan response) {
	for resp := range out {
		m.mu.Lock()
		ch, ok := m.pending[resp.ID]
		if ok {
			delete(m.pending, resp.ID)
		}
		m.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// processInline runs the frame on the caller's engine instance.
func (m *Manager) processInline(freq, timeDomain []byte, now time.Time) (*analysis.FrameResult, error) {
	start := time.Now()
	m.fbMu.Lock()
	frame, err := m.fallback.Process(freq, timeDomain, now)
	m.fbMu.Unlock()
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	m.mu.Lock()
	m.fallbackStats.record(elapsed)
	m.mu.Unlock()
	return frame, nil
}

func (m *Manager) recordWorkerSuccess(elapsed time.Duration) {
	m.mu.Lock()
	m.consecutiveErrors = 0
	m.workerStats.record(elapsed)
	m.mu.Unlock()
}

func (m *Manager) recordWorkerError(err error) {
	m.mu.Lock()
	m.consecutiveErrors++
	over := m.consecutiveErrors > m.cfg.MaxWorkerErrors
	m.mu.Unlock()
	if over {
		m.activateFallback(fmt.Sprintf("exceeded %d consecutive worker errors: %v", m.cfg.MaxWorkerErrors, err))
	}
}

// activateFallback irrevocably switches to the inline path for the rest of
// the session.
func (m *Manager) activateFallback(reason string) {
	m.mu.Lock()
	if m.mode == ModeFallback {
		m.mu.Unlock()
		return
	}
	m.mode = ModeFallback
	m.fallbackReason = reason
	cb := m.onFallback
	m.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
}

func (p *PathStats) record(elapsed time.Duration) {
	p.Frames++
	p.TotalTime += elapsed
	p.AverageTime = p.TotalTime / time.Duration(p.Frames)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package analysis

import (
	"time"
)

// Engine bundles a FrequencyAnalyzer and BeatDetector behind a single
// processing entry point. The worker and the main-thread fallback each own
// a private Engine instance, so the two paths are equivalent by
// construction: identical input and configuration produce identical output.
//
// An Engine is confined to one goroutine; it performs no locking.
type Engine struct {
	analyzer *FrequencyAnalyzer
	detector *BeatDetector

	initialized bool

	frames    uint64
	totalTime time.Duration
}

// NewEngine returns an uninitialized engine. Process fails with
// ErrNotInitialized until Initialize has been called.
func NewEngine() *Engine {
	return &Engine{analyzer: NewFrequencyAnalyzer()}
}

// Initialize configures analysis and beat detection. Calling it again
// reconfigures from scratch, resetting all per-frame state.
func (e *Engine) Initialize(cfg Config) error {
	if err := e.analyzer.Configure(cfg); err != nil {
		return err
	}
	e.detector = NewBeatDetector(cfg.Beat)
	e.initialized = true
	return nil
}

// Reconfigure applies a new configuration epoch. Dependent state (bin maps,
// smoothing arrays, normalization, beat history) is re-derived.
func (e *Engine) Reconfigure(cfg Config) error {
	return e.Initialize(cfg)
}

// Process runs the full per-frame pipeline: frequency analysis over the
// magnitude bytes and beat detection over the low band. The timeDomain
// slice is accepted for interface completeness but the current pipeline
// derives everything from the frequency frame.
func (e *Engine) Process(freq, timeDomain []byte, now time.Time) (*FrameResult, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	start := time.Now()

	freqResult, err := e.analyzer.Analyze(freq)
	if err != nil {
		return nil, err
	}
	beatResult := e.detector.DetectBeat(freq, now)

	e.frames++
	e.totalTime += time.Since(start)

	return &FrameResult{
		Frequency: freqResult,
		Beat:      &beatResult,
		Timestamp: now,
	}, nil
}

// Reset clears smoothing, normalization and beat history while keeping the
// current configuration.
func (e *Engine) Reset() {
	if !e.initialized {
		return
	}
	e.analyzer.Reset()
	e.detector.Reset()
	e.frames = 0
	e.totalTime = 0
}

// Stats returns processing counters for adaptive-quality decisions.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		FramesProcessed: e.frames,
		TotalTime:       e.totalTime,
	}
	if e.frames > 0 {
		stats.AverageTime = e.totalTime / time.Duration(e.frames)
	}
	return stats
}

// Initialized reports whether Initialize has completed successfully.
func (e *Engine) Initialized() bool {
	return e.initialized
}

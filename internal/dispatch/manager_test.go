package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/flux/internal/analysis"
)

func testFrames(count, bufferLength int) [][]byte {
	frames := make([][]byte, count)
	for i := range frames {
		frame := make([]byte, bufferLength)
		for j := range frame {
			frame[j] = byte((i*37 + j*13) % 256)
		}
		frames[i] = frame
	}
	return frames
}

func TestWorkerModeProcessesFrames(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Close()

	require.Equal(t, ModeWorker, m.Mode())

	frame := make([]byte, 1024)
	result, err := m.ProcessFrame(frame, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Frequency)
	require.NotNil(t, result.Beat)

	stats := m.Stats()
	assert.Equal(t, ModeWorker, stats.Mode)
	assert.Equal(t, uint64(1), stats.Worker.Frames)
	assert.Zero(t, stats.Fallback.Frames)
}

func TestWorkerDisabledUsesFallback(t *testing.T) {
	var reason string
	cfg := DefaultConfig()
	cfg.WorkerEnabled = false
	m := NewManager(cfg, func(r string) { reason = r })
	require.NoError(t, m.Start())
	defer m.Close()

	assert.Equal(t, ModeFallback, m.Mode())
	assert.Contains(t, reason, "disabled")

	result, err := m.ProcessFrame(make([]byte, 1024), nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, uint64(1), m.Stats().Fallback.Frames)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.SampleRate = 0
	m := NewManager(cfg, nil)
	assert.Error(t, m.Start())
}

// Both paths run the same engine implementation, so identical frame
// sequences must produce numerically identical frequency output.
func TestWorkerAndFallbackEquivalence(t *testing.T) {
	worker := NewManager(DefaultConfig(), nil)
	require.NoError(t, worker.Start())
	defer worker.Close()
	require.Equal(t, ModeWorker, worker.Mode())

	fbCfg := DefaultConfig()
	fbCfg.WorkerEnabled = false
	fallback := NewManager(fbCfg, nil)
	require.NoError(t, fallback.Start())
	defer fallback.Close()

	for i, frame := range testFrames(20, 1024) {
		wres, err := worker.ProcessFrame(frame, nil)
		require.NoError(t, err)
		fres, err := fallback.ProcessFrame(frame, nil)
		require.NoError(t, err)

		for name, wv := range wres.Frequency.Ranges {
			assert.InDelta(t, wv, fres.Frequency.Ranges[name], 1e-9, "frame %d range %s", i, name)
		}
		assert.InDelta(t, wres.Frequency.Amplitude, fres.Frequency.Amplitude, 1e-9, "frame %d", i)
		assert.InDelta(t, wres.Frequency.SpectralCentroid, fres.Frequency.SpectralCentroid, 1e-9, "frame %d", i)
		assert.Equal(t, wres.Frequency.DominantRange, fres.Frequency.DominantRange, "frame %d", i)
		require.Len(t, fres.Frequency.Spectrum, len(wres.Frequency.Spectrum))
		for b := range wres.Frequency.Spectrum {
			assert.InDelta(t, wres.Frequency.Spectrum[b], fres.Frequency.Spectrum[b], 1e-9, "frame %d bin %d", i, b)
		}
		assert.InDelta(t, wres.Beat.Energy, fres.Beat.Energy, 1e-9, "frame %d", i)
	}
}

func TestConsecutiveErrorsActivateFallback(t *testing.T) {
	var mu sync.Mutex
	var reasons []string
	cfg := DefaultConfig()
	cfg.MaxWorkerErrors = 3
	m := NewManager(cfg, func(r string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, r)
	})
	require.NoError(t, m.Start())
	defer m.Close()
	require.Equal(t, ModeWorker, m.Mode())

	// a wrong-length frame errors on the worker and on the inline retry
	bad := make([]byte, 16)
	for i := 0; i < cfg.MaxWorkerErrors+1; i++ {
		_, err := m.ProcessFrame(bad, nil)
		assert.Error(t, err)
	}

	assert.Equal(t, ModeFallback, m.Mode())
	mu.Lock()
	require.Len(t, reasons, 1, "fallback callback fires exactly once")
	assert.Contains(t, reasons[0], "consecutive worker errors")
	mu.Unlock()

	// processing continues on the inline path
	result, err := m.ProcessFrame(make([]byte, 1024), nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, ModeFallback, m.Mode(), "no recovery back to worker mode")
}

func TestWorkerErrorRetriesInline(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Close()

	// below the threshold a failed frame is retried inline: a good frame
	// after a bad one keeps worker mode and resets the error counter
	_, err := m.ProcessFrame(make([]byte, 16), nil)
	assert.Error(t, err)
	assert.Equal(t, ModeWorker, m.Mode())
	assert.Equal(t, 1, m.Stats().ConsecutiveErrors)

	_, err = m.ProcessFrame(make([]byte, 1024), nil)
	require.NoError(t, err)
	assert.Zero(t, m.Stats().ConsecutiveErrors)
}

func TestRequestTimeoutRejectsOnlyThatRequest(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Close()

	// swap in a channel nobody serves so the request must time out
	m.mu.Lock()
	served := m.in
	stalled := make(chan request, requestChannelDepth)
	m.in = stalled
	m.mu.Unlock()

	_, err := m.roundTrip(request{Type: msgTest}, 20*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	m.mu.Lock()
	assert.Empty(t, m.pending, "timed-out request leaves the pending set")
	m.in = served
	m.mu.Unlock()

	resp, err := m.roundTrip(request{Type: msgTest}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Data.Alive)
}

func TestUpdateConfigAppliesToBothPaths(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Close()

	cfg := analysis.DefaultConfig()
	cfg.SpectrumResolution = 32
	require.NoError(t, m.UpdateConfig(cfg))

	result, err := m.ProcessFrame(make([]byte, 1024), nil)
	require.NoError(t, err)
	assert.Len(t, result.Frequency.Spectrum, 32)

	assert.Error(t, m.UpdateConfig(analysis.Config{}), "invalid config is rejected")
}

func TestResetClearsBeatHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerEnabled = false
	m := NewManager(cfg, nil)
	require.NoError(t, m.Start())
	defer m.Close()

	loud := make([]byte, 1024)
	for i := range loud {
		loud[i] = 220
	}
	for i := 0; i <= cfg.Engine.Beat.HistorySize; i++ {
		_, err := m.ProcessFrame(loud, nil)
		require.NoError(t, err)
	}

	m.Reset()

	result, err := m.ProcessFrame(loud, nil)
	require.NoError(t, err)
	assert.False(t, result.Beat.IsBeat, "history is cold after reset")
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.Start())
	m.Close()
	m.Close() // idempotent

	_, err := m.roundTrip(request{Type: msgTest}, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHandleRequestProtocol(t *testing.T) {
	engine := analysis.NewEngine()

	resp := handleRequest(engine, request{ID: 1, Type: msgTest})
	assert.Equal(t, uint64(1), resp.ID)
	assert.True(t, resp.Data.Alive)

	// processing before initialize is an error response
	resp = handleRequest(engine, request{ID: 2, Type: msgProcess, Data: requestData{Frequency: make([]byte, 1024)}})
	assert.NotEmpty(t, resp.Error)

	cfg := analysis.DefaultConfig()
	resp = handleRequest(engine, request{ID: 3, Type: msgInitialize, Data: requestData{Config: &cfg}})
	assert.Empty(t, resp.Error)

	resp = handleRequest(engine, request{ID: 4, Type: msgProcess, Data: requestData{
		Frequency: make([]byte, 1024),
		Timestamp: time.Now(),
	}})
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Data.Frame)

	resp = handleRequest(engine, request{ID: 5, Type: msgGetStats})
	require.NotNil(t, resp.Data.Stats)
	assert.Equal(t, uint64(1), resp.Data.Stats.FramesProcessed)

	resp = handleRequest(engine, request{ID: 6, Type: msgInitialize})
	assert.NotEmpty(t, resp.Error, "initialize without config")

	resp = handleRequest(engine, request{ID: 7, Type: messageType("bogus")})
	assert.Contains(t, resp.Error, "unknown message type")
}

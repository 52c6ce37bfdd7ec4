package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineFailsFastBeforeInitialize(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.Initialized())

	_, err := e.Process(make([]byte, 1024), nil, time.Now())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestEngineProcessAndStats(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Initialize(DefaultConfig()))
	require.True(t, e.Initialized())

	frame := make([]byte, 1024)
	for i := range frame {
		frame[i] = 128
	}

	now := time.Now()
	for i := 0; i < 10; i++ {
		result, err := e.Process(frame, nil, now.Add(time.Duration(i)*20*time.Millisecond))
		require.NoError(t, err)
		require.NotNil(t, result.Frequency)
		require.NotNil(t, result.Beat)
	}

	stats := e.Stats()
	assert.Equal(t, uint64(10), stats.FramesProcessed)
	assert.GreaterOrEqual(t, stats.TotalTime, time.Duration(0))
	assert.GreaterOrEqual(t, stats.AverageTime, time.Duration(0))
}

func TestEngineReconfigureResetsState(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	require.NoError(t, e.Initialize(cfg))

	loud := make([]byte, 1024)
	for i := range loud {
		loud[i] = 255
	}
	now := time.Now()
	for i := 0; i <= cfg.Beat.HistorySize; i++ {
		_, err := e.Process(loud, nil, now.Add(time.Duration(i)*23*time.Millisecond))
		require.NoError(t, err)
	}

	require.NoError(t, e.Reconfigure(cfg))

	// beat detection is back in cold start after reconfiguration
	result, err := e.Process(loud, nil, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, result.Beat.IsBeat)
}

func TestEngineResetClearsCounters(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Initialize(DefaultConfig()))

	_, err := e.Process(make([]byte, 1024), nil, time.Now())
	require.NoError(t, err)

	e.Reset()
	assert.Equal(t, uint64(0), e.Stats().FramesProcessed)
}

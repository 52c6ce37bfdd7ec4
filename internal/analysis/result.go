package analysis

import "time"

// RangeValues maps a configured range name to a value in [0, 1].
type RangeValues map[string]float64

// FrequencyResult is the per-frame output of the FrequencyAnalyzer.
type FrequencyResult struct {
	// Ranges holds the final per-range values after smoothing,
	// normalization and weighting
	Ranges RangeValues `json:"ranges"`

	// Raw holds the unprocessed per-range values (mean of mapped bins / 255)
	Raw RangeValues `json:"raw"`

	// Spectrum is the configurable-resolution spectrum, values in [0, 1]
	Spectrum []float64 `json:"spectrum"`

	// SpectrumFrequencies holds the center frequency (Hz) of each spectrum bin
	SpectrumFrequencies []float64 `json:"spectrumFrequencies"`

	// Amplitude is the overall level: mean of all raw bytes / 255
	Amplitude float64 `json:"amplitude"`

	// SpectralCentroid is the magnitude-weighted mean frequency in Hz
	SpectralCentroid float64 `json:"spectralCentroid"`

	// EnergyDistribution is the per-range share of total raw energy, summing to 1
	EnergyDistribution RangeValues `json:"energyDistribution"`

	// DynamicRange is max-min of the weighted range values
	DynamicRange float64 `json:"dynamicRange"`

	// DominantRange is the name of the range with the highest weighted value.
	// Ties break toward the earliest configured range.
	DominantRange string `json:"dominantRange"`
}

// BeatResult is the per-frame output of the BeatDetector.
type BeatResult struct {
	IsBeat    bool    `json:"isBeat"`
	Energy    float64 `json:"energy"`
	AvgEnergy float64 `json:"avgEnergy"`
	Strength  float64 `json:"strength"`

	// Confidence is 0.8 when a beat fires, otherwise scales with energy
	Confidence float64 `json:"confidence"`

	// BPM estimation is not implemented, always 0
	BPM int `json:"bpm"`
}

// FrameResult bundles the frequency and beat results for one processed frame.
type FrameResult struct {
	Frequency *FrequencyResult `json:"frequency"`
	Beat      *BeatResult      `json:"beat"`
	Timestamp time.Time        `json:"timestamp"`
}

// EngineStats tracks per-engine processing counters.
type EngineStats struct {
	FramesProcessed uint64        `json:"framesProcessed"`
	TotalTime       time.Duration `json:"totalTime"`
	AverageTime     time.Duration `json:"averageTime"`
}

package analysis

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotInitialized is returned when Analyze is called before the analyzer
// has been configured with a sample rate and buffer length.
var ErrNotInitialized = errors.New("analyzer not initialized")

// minSpectrumHz is the lower bound of the logarithmic spectrum scale.
const minSpectrumHz = 20.0

// binRange is the derived bin mapping for one configured frequency range.
// Bins are contiguous and always within [0, bufferLength).
type binRange struct {
	spec  RangeSpec
	first int
	count int
}

// FrequencyAnalyzer maps raw per-frame byte magnitudes into named frequency
// ranges and a configurable-resolution spectrum, applying smoothing,
// normalization and weighting in a fixed pipeline order.
type FrequencyAnalyzer struct {
	cfg         Config
	initialized bool

	bins []binRange

	// per-range exponential moving averages, parallel to cfg.Ranges
	smoothed []float64
	// per-range normalization state, parallel to cfg.Ranges
	norms []normalizer

	spectrumBins     []int
	spectrumFreqs    []float64
	spectrumSmoothed []float64
}

// NewFrequencyAnalyzer returns an unconfigured analyzer. Analyze fails with
// ErrNotInitialized until Configure has been called.
func NewFrequencyAnalyzer() *FrequencyAnalyzer {
	return &FrequencyAnalyzer{}
}

// Configure validates the configuration and re-derives all dependent state:
// bin mappings, smoothing arrays, normalization state and the spectrum map.
// Smoothing and normalization state is reset for consistency with the new
// bin layout.
func (a *FrequencyAnalyzer) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid analyzer config: %w", err)
	}
	a.cfg = cfg
	a.computeBinRanges()

	a.smoothed = make([]float64, len(cfg.Ranges))
	a.norms = make([]normalizer, len(cfg.Ranges))
	for i := range a.norms {
		a.norms[i] = newNormalizer(cfg.NormalizationMethod)
	}

	a.computeSpectrumMap()
	a.initialized = true
	return nil
}

// SetSpectrum changes only the spectrum resolution and scale, recomputing
// the spectrum bin map without touching range state.
func (a *FrequencyAnalyzer) SetSpectrum(resolution int, logScale bool) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if resolution <= 0 {
		return fmt.Errorf("spectrum resolution must be positive, got %d", resolution)
	}
	a.cfg.SpectrumResolution = resolution
	a.cfg.LogScale = logScale
	a.computeSpectrumMap()
	return nil
}

// Reset clears all smoothing and normalization state while keeping the
// current configuration.
func (a *FrequencyAnalyzer) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	for _, n := range a.norms {
		n.reset()
	}
	for i := range a.spectrumSmoothed {
		a.spectrumSmoothed[i] = 0
	}
}

// Analyze processes one frame of frequency magnitudes (one byte per FFT bin,
// 0-255) and returns the structured result. The input length must match the
// configured buffer length.
func (a *FrequencyAnalyzer) Analyze(freq []byte) (*FrequencyResult, error) {
	if !a.initialized {
		return nil, ErrNotInitialized
	}
	if len(freq) != a.cfg.BufferLength {
		return nil, fmt.Errorf("frame has %d bins, expected %d", len(freq), a.cfg.BufferLength)
	}

	result := &FrequencyResult{
		Ranges:             make(RangeValues, len(a.bins)),
		Raw:                make(RangeValues, len(a.bins)),
		EnergyDistribution: make(RangeValues, len(a.bins)),
	}

	weighted := make([]float64, len(a.bins))
	raw := make([]float64, len(a.bins))

	for i, br := range a.bins {
		value := br.rawValue(freq)
		raw[i] = value
		result.Raw[br.spec.Name] = value

		if a.cfg.SmoothingEnabled {
			a.smoothed[i] = a.cfg.SmoothingFactor*a.smoothed[i] + (1-a.cfg.SmoothingFactor)*value
			value = a.smoothed[i]
		}
		if a.cfg.NormalizationEnabled {
			value = a.norms[i].normalize(value)
		}

		value = clamp01(value * br.spec.Weight)
		weighted[i] = value
		result.Ranges[br.spec.Name] = value
	}

	a.generateSpectrum(freq, result)
	a.computeMetrics(freq, raw, weighted, result)
	return result, nil
}

// rawValue is the mean of the range's mapped bins divided by 255.
func (br *binRange) rawValue(freq []byte) float64 {
	if br.count == 0 {
		return 0
	}
	var sum int
	for _, b := range freq[br.first : br.first+br.count] {
		sum += int(b)
	}
	return float64(sum) / float64(br.count) / 255.0
}

// computeBinRanges maps each configured Hz range onto contiguous FFT bins.
// Ranges may overlap in Hz; each bin list is derived independently.
func (a *FrequencyAnalyzer) computeBinRanges() {
	a.bins = make([]binRange, len(a.cfg.Ranges))
	for i, spec := range a.cfg.Ranges {
		first := a.binForFrequency(spec.MinHz)
		last := a.binForFrequency(spec.MaxHz)
		if last < first {
			last = first
		}
		a.bins[i] = binRange{spec: spec, first: first, count: last - first + 1}
	}
}

// binForFrequency converts a frequency to its FFT bin index, clamped to
// [0, bufferLength).
func (a *FrequencyAnalyzer) binForFrequency(hz float64) int {
	fftSize := a.cfg.BufferLength * 2
	bin := int(hz * float64(fftSize) / float64(a.cfg.SampleRate))
	if bin < 0 {
		return 0
	}
	if bin >= a.cfg.BufferLength {
		return a.cfg.BufferLength - 1
	}
	return bin
}

// computeSpectrumMap builds the ordered bin/frequency map for spectrum
// generation, either linearly across all bins or log-distributed from
// 20 Hz to Nyquist.
func (a *FrequencyAnalyzer) computeSpectrumMap() {
	n := a.cfg.SpectrumResolution
	a.spectrumBins = make([]int, n)
	a.spectrumFreqs = make([]float64, n)
	a.spectrumSmoothed = make([]float64, n)

	nyquist := float64(a.cfg.SampleRate) / 2
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		var hz float64
		if a.cfg.LogScale {
			hz = math.Pow(10, math.Log10(minSpectrumHz)+t*(math.Log10(nyquist)-math.Log10(minSpectrumHz)))
		} else {
			hz = t * nyquist
		}
		a.spectrumBins[i] = a.binForFrequency(hz)
		a.spectrumFreqs[i] = hz
	}
}

// generateSpectrum samples the configured spectrum bins directly from the
// frame, independent of range values, optionally smoothing with the same
// EMA factor.
func (a *FrequencyAnalyzer) generateSpectrum(freq []byte, result *FrequencyResult) {
	spectrum := make([]float64, len(a.spectrumBins))
	for i, bin := range a.spectrumBins {
		v := float64(freq[bin]) / 255.0
		if a.cfg.SmoothingEnabled {
			a.spectrumSmoothed[i] = a.cfg.SmoothingFactor*a.spectrumSmoothed[i] + (1-a.cfg.SmoothingFactor)*v
			v = a.spectrumSmoothed[i]
		}
		spectrum[i] = v
	}
	result.Spectrum = spectrum
	result.SpectrumFrequencies = append([]float64(nil), a.spectrumFreqs...)
}

// computeMetrics fills overall amplitude, spectral centroid, per-range
// energy distribution, dynamic range and the dominant range.
func (a *FrequencyAnalyzer) computeMetrics(freq []byte, raw, weighted []float64, result *FrequencyResult) {
	var byteSum float64
	var centroidNum, centroidDen float64
	binWidth := float64(a.cfg.SampleRate) / float64(a.cfg.BufferLength*2)
	for i, b := range freq {
		mag := float64(b)
		byteSum += mag
		centroidNum += float64(i) * binWidth * mag
		centroidDen += mag
	}
	result.Amplitude = byteSum / float64(len(freq)) / 255.0
	if centroidDen > 0 {
		result.SpectralCentroid = centroidNum / centroidDen
	}

	var rawSum float64
	for _, v := range raw {
		rawSum += v
	}
	for i, br := range a.bins {
		if rawSum > 0 {
			result.EnergyDistribution[br.spec.Name] = raw[i] / rawSum
		} else {
			result.EnergyDistribution[br.spec.Name] = 0
		}
	}

	// Dominant range: argmax of weighted values, ties broken by the
	// insertion order of the range definitions.
	maxVal := math.Inf(-1)
	minVal := math.Inf(1)
	dominant := 0
	for i, v := range weighted {
		if v > maxVal {
			maxVal = v
			dominant = i
		}
		if v < minVal {
			minVal = v
		}
	}
	result.DynamicRange = maxVal - minVal
	result.DominantRange = a.bins[dominant].spec.Name
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package audio

import (
	"fmt"
	"math"
	"sync"
)

// Decibel range mapped onto the 0-255 output bytes.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser is the byte-array pull interface the analysis core consumes:
// fixed-length frequency-magnitude and time-domain arrays per frame.
type Analyser interface {
	// FrequencyData fills dst with one byte per FFT bin (0-255) and
	// returns the number of bins written
	FrequencyData(dst []byte) int

	// TimeDomainData fills dst with the current waveform, 128-centered,
	// and returns the number of samples written
	TimeDomainData(dst []byte) int

	// BufferLength is the number of frequency bins (fftSize / 2)
	BufferLength() int

	// SampleRate of the analysed audio in Hz
	SampleRate() int
}

// FFTAnalyser converts a PCM sample stream into the byte magnitude frames
// the analysis core expects: Hann window, radix-2 FFT, decibel mapping with
// exponential time smoothing.
type FFTAnalyser struct {
	fftSize    int
	sampleRate int
	smoothing  float64

	mu       sync.Mutex
	window   []float64
	samples  []float64 // ring of the latest fftSize mono samples
	pos      int       // next write index into samples
	real     []float64
	imag     []float64
	smoothed []float64 // per-bin smoothed magnitudes
}

// NewFFTAnalyser creates an analyser. fftSize must be a power of two of at
// least 32; smoothing is the time constant in [0, 1).
func NewFFTAnalyser(fftSize, sampleRate int, smoothing float64) (*FFTAnalyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two >= 32, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing time constant must be in [0, 1), got %g", smoothing)
	}

	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &FFTAnalyser{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		smoothing:  smoothing,
		window:     window,
		samples:    make([]float64, fftSize),
		real:       make([]float64, fftSize),
		imag:       make([]float64, fftSize),
		smoothed:   make([]float64, fftSize/2),
	}, nil
}

// BufferLength returns the number of frequency bins.
func (a *FFTAnalyser) BufferLength() int { return a.fftSize / 2 }

// SampleRate returns the configured sample rate.
func (a *FFTAnalyser) SampleRate() int { return a.sampleRate }

// Feed appends 16-bit little-endian mono PCM to the rolling sample window.
func (a *FFTAnalyser) Feed(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		a.samples[a.pos] = float64(sample) / 32768.0
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// orderedSample returns the i-th oldest sample in the ring.
func (a *FFTAnalyser) orderedSample(i int) float64 {
	return a.samples[(a.pos+i)%a.fftSize]
}

// FrequencyData runs the FFT over the current window and writes byte
// magnitudes: 20·log10 of the time-smoothed normalized magnitude, mapped
// from [-100 dB, -30 dB] onto [0, 255].
func (a *FFTAnalyser) FrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.fftSize; i++ {
		a.real[i] = a.orderedSample(i) * a.window[i]
		a.imag[i] = 0
	}
	fft(a.real, a.imag)

	n := min(len(dst), a.fftSize/2)
	for k := 0; k < n; k++ {
		mag := math.Hypot(a.real[k], a.imag[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := -math.MaxFloat64
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		scaled := (db - minDecibels) / (maxDecibels - minDecibels) * 255
		dst[k] = byte(math.Min(math.Max(scaled, 0), 255))
	}
	return n
}

// TimeDomainData writes the current waveform as 128-centered bytes.
func (a *FFTAnalyser) TimeDomainData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := min(len(dst), a.fftSize)
	for i := 0; i < n; i++ {
		v := (a.orderedSample(i) + 1) * 128
		dst[i] = byte(math.Min(math.Max(v, 0), 255))
	}
	return n
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform.
func fft(real, imag []float64) {
	n := len(real)
	if n <= 1 {
		return
	}

	// bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			real[i], real[j] = real[j], real[i]
			imag[i], imag[j] = imag[j], imag[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wr, wi := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += length {
			cr, ci := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				er, ei := real[start+k], imag[start+k]
				or, oi := real[start+k+half], imag[start+k+half]
				tr := or*cr - oi*ci
				ti := or*ci + oi*cr
				real[start+k], imag[start+k] = er+tr, ei+ti
				real[start+k+half], imag[start+k+half] = er-tr, ei-ti
				cr, ci = cr*wr-ci*wi, cr*wi+ci*wr
			}
		}
	}
}

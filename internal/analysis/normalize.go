package analysis

import "math"

// Normalization constants. The adaptive step size and target level are
// heuristics carried over for output compatibility; they are tunable,
// not load-bearing.
const (
	peakDecay = 0.999

	rmsWindowSize = 100
	rmsHeadroom   = 2.0

	adaptiveTarget  = 0.7
	adaptiveStep    = 0.01
	adaptiveMinGain = 0.1
	adaptiveMaxGain = 10.0
)

// normalizer rescales one range's value relative to a dynamic reference.
// Each configured range owns an independent normalizer instance.
type normalizer interface {
	normalize(value float64) float64
	reset()
}

func newNormalizer(method NormalizationMethod) normalizer {
	switch method {
	case NormalizeRMS:
		return &rmsNormalizer{window: make([]float64, 0, rmsWindowSize)}
	case NormalizeAdaptive:
		return &adaptiveNormalizer{gain: 1.0}
	default:
		return &peakNormalizer{}
	}
}

// peakNormalizer tracks a decaying maximum. The decay is applied every frame
// before comparison so the reference slowly forgets a loud past.
type peakNormalizer struct {
	peak float64
}

func (p *peakNormalizer) normalize(value float64) float64 {
	p.peak = math.Max(p.peak*peakDecay, value)
	if p.peak <= 0 {
		return 0
	}
	return math.Min(value/p.peak, 1.0)
}

func (p *peakNormalizer) reset() { p.peak = 0 }

// rmsNormalizer keeps a fixed-length sliding window of squared values,
// about two seconds of history at 50 frames per second.
type rmsNormalizer struct {
	window []float64
	next   int
	full   bool
}

func (r *rmsNormalizer) normalize(value float64) float64 {
	sq := value * value
	if !r.full && len(r.window) < rmsWindowSize {
		r.window = append(r.window, sq)
		if len(r.window) == rmsWindowSize {
			r.full = true
		}
	} else {
		r.window[r.next] = sq
		r.next = (r.next + 1) % rmsWindowSize
	}

	var sum float64
	for _, v := range r.window {
		sum += v
	}
	rms := math.Sqrt(sum / float64(len(r.window)))
	if rms <= 0 {
		return 0
	}
	return math.Min(value/(rms*rmsHeadroom), 1.0)
}

func (r *rmsNormalizer) reset() {
	r.window = r.window[:0]
	r.next = 0
	r.full = false
}

// adaptiveNormalizer converges a gain toward a target output level with
// small multiplicative steps, clamped to [adaptiveMinGain, adaptiveMaxGain].
type adaptiveNormalizer struct {
	gain float64
}

func (a *adaptiveNormalizer) normalize(value float64) float64 {
	out := value * a.gain
	if out > adaptiveTarget {
		a.gain *= 1 - adaptiveStep
	} else if out < adaptiveTarget*0.5 {
		a.gain *= 1 + adaptiveStep
	}
	a.gain = math.Min(math.Max(a.gain, adaptiveMinGain), adaptiveMaxGain)
	return math.Min(out, 1.0)
}

func (a *adaptiveNormalizer) reset() { a.gain = 1.0 }

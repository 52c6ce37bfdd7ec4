package analysis

import (
	"math"
	"time"
)

// bassFraction is the share of the lowest FFT bins used as the beat band.
const bassFraction = 0.1

// beatConfidence is the fixed confidence reported when a beat fires.
const beatConfidence = 0.8

// energyRing is a fixed-capacity ring buffer of instantaneous energy values.
// The oldest value is evicted on overflow.
type energyRing struct {
	values   []float64
	capacity int
	next     int
	full     bool
}

func newEnergyRing(capacity int) *energyRing {
	return &energyRing{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// push appends an energy sample, evicting the oldest when full.
func (r *energyRing) push(v float64) {
	if !r.full && len(r.values) < r.capacity {
		r.values = append(r.values, v)
		if len(r.values) == r.capacity {
			r.full = true
		}
		return
	}
	r.values[r.next] = v
	r.next = (r.next + 1) % r.capacity
}

// isFull reports whether the ring has reached capacity at least once.
func (r *energyRing) isFull() bool {
	return r.full
}

// mean returns the average of all stored values, or 0 when empty.
func (r *energyRing) mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.values {
		sum += v
	}
	return sum / float64(len(r.values))
}

func (r *energyRing) reset() {
	r.values = r.values[:0]
	r.next = 0
	r.full = false
}

// BeatDetector emits discrete beat events from low-band energy.
// A beat fires when the instantaneous energy exceeds the rolling average
// by the configured threshold, subject to an absolute energy floor and a
// minimum interval between beats.
type BeatDetector struct {
	cfg      BeatConfig
	history  *energyRing
	lastBeat time.Time
}

// NewBeatDetector creates a detector with the given configuration.
func NewBeatDetector(cfg BeatConfig) *BeatDetector {
	return &BeatDetector{
		cfg:     cfg,
		history: newEnergyRing(cfg.HistorySize),
	}
}

// DetectBeat processes one frame of frequency bytes at the given time.
// While the history buffer is still filling, no beat is ever reported;
// this cold-start guard prevents false positives before the rolling
// average is meaningful.
func (d *BeatDetector) DetectBeat(freq []byte, now time.Time) BeatResult {
	energy := bassEnergy(freq)

	warmedUp := d.history.isFull()
	d.history.push(energy)

	if !warmedUp {
		return BeatResult{
			Energy:     energy,
			Confidence: nonBeatConfidence(energy),
		}
	}

	avg := d.history.mean()

	isBeat := energy > avg*d.cfg.Threshold &&
		energy > d.cfg.MinEnergy &&
		(d.lastBeat.IsZero() || now.Sub(d.lastBeat) >= d.cfg.MinInterval)

	result := BeatResult{
		Energy:    energy,
		AvgEnergy: avg,
	}
	if isBeat {
		result.IsBeat = true
		result.Strength = math.Min(energy/avg, 2.0)
		result.Confidence = beatConfidence
		d.lastBeat = now
	} else {
		result.Confidence = nonBeatConfidence(energy)
	}
	return result
}

// Reset clears the energy history and the debounce timestamp.
func (d *BeatDetector) Reset() {
	d.history.reset()
	d.lastBeat = time.Time{}
}

// bassEnergy computes the RMS of the lowest ~10% of bins, normalized to [0, 1].
func bassEnergy(freq []byte) float64 {
	if len(freq) == 0 {
		return 0
	}
	n := int(float64(len(freq)) * bassFraction)
	if n < 1 {
		n = 1
	}
	var sum float64
	for _, b := range freq[:n] {
		v := float64(b) / 255.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// nonBeatConfidence scales with energy when no beat fires.
func nonBeatConfidence(energy float64) float64 {
	return math.Min(energy, 1.0) * 0.5
}

package spectral

import (
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
)

// ErrBoxTooNarrow is returned when the averaging box does not extend past the
// peak's trough-to-trough extent, leaving no honest background to average
var ErrBoxTooNarrow = errors.New("box radius narrower than peak width")

// SigBox returns a / (mean amplitude around f) using the configured box radius
func (p *Periodogram) SigBox(f, a float64) (float64, error) {
	return p.SigBoxRadius(f, a, p.noise.BoxRadius)
}

// SigBoxRadius is SigBox with an explicit radius in frequency units. The
// background is the mean amplitude inside [f-r, f+r] excluding the peak at f,
// whose extent is found by walking outward while the amplitude keeps falling.
func (p *Periodogram) SigBoxRadius(f, a, radius float64) (float64, error) {
	n := len(p.freq)
	peak := common.NearestIndex(p.freq, f)

	lo := peak
	for lo > 0 && p.amp[lo-1] < p.amp[lo] {
		lo--
	}
	hi := peak
	for hi < n-1 && p.amp[hi+1] < p.amp[hi] {
		hi++
	}

	left, right := f-radius, f+radius
	if p.freq[lo] < left || p.freq[hi] > right {
		return 0, fmt.Errorf("%w: peak at %g spans [%g, %g], box is [%g, %g]",
			ErrBoxTooNarrow, f, p.freq[lo], p.freq[hi], left, right)
	}

	sum, count := 0.0, 0
	for i, fi := range p.freq {
		if fi < left {
			continue
		}
		if fi > right {
			break
		}
		if i >= lo && i <= hi {
			continue
		}
		sum += p.amp[i]
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: no background points around %g", ErrBoxTooNarrow, f)
	}
	return a / (sum / float64(count)), nil
}

// SigBoxAll evaluates SigBox elementwise
func (p *Periodogram) SigBoxAll(fs, as []float64) ([]float64, error) {
	return elementwise(fs, as, p.SigBox)
}

func elementwise(fs, as []float64, fn func(f, a float64) (float64, error)) ([]float64, error) {
	if len(fs) != len(as) {
		return nil, fmt.Errorf("%d frequencies but %d amplitudes", len(fs), len(as))
	}
	out := make([]float64, len(fs))
	for i := range fs {
		sig, err := fn(fs[i], as[i])
		if err != nil {
			return nil, err
		}
		out[i] = sig
	}
	return out, nil
}

package spectral

import (
	"fmt"
	"math"
	"sync"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
	"github.com/RyanBlaney/sonido-whiten/config"
	"gonum.org/v1/gonum/floats"
)

// Periodogram is an amplitude spectrum over a strictly increasing positive
// frequency grid. The polynomial and red-noise background fits are computed
// at most once and cached for the lifetime of the periodogram.
type Periodogram struct {
	freq  []float64
	amp   []float64
	noise config.SignificanceConfig

	polyOnce sync.Once
	poly     *PolyFit
	polyErr  error

	redOnce sync.Once
	red     *RedNoiseFit
	redErr  error
}

// NewPeriodogram wraps an externally computed spectrum. Both slices are copied.
func NewPeriodogram(freq, amp []float64, noise config.SignificanceConfig) (*Periodogram, error) {
	if len(freq) != len(amp) {
		return nil, fmt.Errorf("%w: %d frequencies but %d amplitudes", ErrInvalidGrid, len(freq), len(amp))
	}
	if err := validateGrid(freq); err != nil {
		return nil, err
	}
	for i, a := range amp {
		if !(a >= 0) || math.IsInf(a, 1) {
			return nil, fmt.Errorf("%w: amplitude %g at index %d", ErrInvalidGrid, a, i)
		}
	}
	if noise.BoxRadius <= 0 {
		noise.BoxRadius = config.Default().Significance.BoxRadius
	}
	return &Periodogram{
		freq:  append([]float64(nil), freq...),
		amp:   append([]float64(nil), amp...),
		noise: noise,
	}, nil
}

func (p *Periodogram) Len() int { return len(p.freq) }

// Frequencies returns the grid. The slice must not be modified.
func (p *Periodogram) Frequencies() []float64 { return p.freq }

// Amplitudes returns the spectrum. The slice must not be modified.
func (p *Periodogram) Amplitudes() []float64 { return p.amp }

// Highest returns the grid point with the largest amplitude
func (p *Periodogram) Highest() Peak {
	i := floats.MaxIdx(p.amp)
	return Peak{Index: i, Frequency: p.freq[i], Amplitude: p.amp[i]}
}

// MeanAmplitude returns the mean of the spectrum
func (p *Periodogram) MeanAmplitude() float64 {
	return common.Mean(p.amp)
}

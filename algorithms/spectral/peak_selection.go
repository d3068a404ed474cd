package spectral

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPeak signals that no grid point passed the selection. It ends the
	// pre-whitening loop and is not a failure.
	ErrNoPeak = errors.New("no peak passed selection")

	// ErrInvalidMethod is returned for unknown peak selection methods
	ErrInvalidMethod = errors.New("invalid peak selection method")
)

// SelectionMethod chooses how candidate peaks are filtered
type SelectionMethod int

const (
	SelectHighest SelectionMethod = iota
	SelectRedNoise
	SelectPolynomial
)

func (m SelectionMethod) String() string {
	switch m {
	case SelectHighest:
		return "highest"
	case SelectRedNoise:
		return "red-noise"
	case SelectPolynomial:
		return "polynomial"
	default:
		return "unknown"
	}
}

// ParseMethod converts a configuration name into a SelectionMethod
func ParseMethod(name string) (SelectionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "highest":
		return SelectHighest, nil
	case "red-noise", "rednoise", "slf":
		return SelectRedNoise, nil
	case "polynomial", "poly":
		return SelectPolynomial, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, name)
	}
}

// Peak is a selected grid point
type Peak struct {
	Index     int
	Frequency float64
	Amplitude float64
}

// SelectPeak returns the highest grid point among those allowed by mask (nil
// allows all) and, for the significance methods, whose significance exceeds
// minSig. ErrNoPeak is returned when nothing remains.
func (p *Periodogram) SelectPeak(method SelectionMethod, minSig float64, mask []bool) (Peak, error) {
	if mask != nil && len(mask) != len(p.freq) {
		return Peak{}, fmt.Errorf("mask has %d entries, grid has %d", len(mask), len(p.freq))
	}

	var sigs []float64
	var err error
	switch method {
	case SelectHighest:
	case SelectRedNoise:
		sigs, err = p.SigRedNoiseAll(p.freq, p.amp)
	case SelectPolynomial:
		sigs, err = p.SigPolyAll(p.freq, p.amp)
	default:
		return Peak{}, fmt.Errorf("%w: %v", ErrInvalidMethod, method)
	}
	if err != nil {
		return Peak{}, err
	}

	best := -1
	for i, a := range p.amp {
		if mask != nil && !mask[i] {
			continue
		}
		if sigs != nil && !(sigs[i] > minSig) {
			continue
		}
		if best < 0 || a > p.amp[best] {
			best = i
		}
	}
	if best < 0 {
		return Peak{}, ErrNoPeak
	}
	return Peak{Index: best, Frequency: p.freq[best], Amplitude: p.amp[best]}, nil
}

package model

import (
	"fmt"
	"math"
	"strings"
)

// Family is the periodic basis of a sinusoid term, evaluated in cycle units:
// a·sin(2π(f·t + p)) or a·cos(2π(f·t + p))
type Family int

const (
	Sin Family = iota
	Cos
)

func (f Family) String() string {
	switch f {
	case Sin:
		return "sin"
	case Cos:
		return "cos"
	default:
		return "unknown"
	}
}

// ParseFamily converts a configuration name into a Family
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sin", "sine":
		return Sin, nil
	case "cos", "cosine":
		return Cos, nil
	default:
		return 0, fmt.Errorf("unknown frequency model family %q (want sin or cos)", name)
	}
}

// Eval returns the term at time t
func (f Family) Eval(t, freq, amp, phase float64) float64 {
	arg := 2 * math.Pi * (freq*t + phase)
	if f == Cos {
		return amp * math.Cos(arg)
	}
	return amp * math.Sin(arg)
}

// Partials returns the derivatives of Eval with respect to frequency,
// amplitude and phase
func (f Family) Partials(t, freq, amp, phase float64) (dFreq, dAmp, dPhase float64) {
	sin, cos := math.Sincos(2 * math.Pi * (freq*t + phase))
	if f == Cos {
		dAmp = cos
		dPhase = -2 * math.Pi * amp * sin
	} else {
		dAmp = sin
		dPhase = 2 * math.Pi * amp * cos
	}
	return dPhase * t, dAmp, dPhase
}

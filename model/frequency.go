package model

import (
	"fmt"
	"math"
)

// Frequency is one extracted periodic component. F, A and P hold the current
// refined values; F0, A0 and P0 keep the single-frequency fit they started from.
type Frequency struct {
	F, A, P    float64
	F0, A0, P0 float64

	Epoch  float64 // phase reference: the term is evaluated at t - Epoch
	Index  int
	Family Family

	SigmaF float64
	SigmaA float64
	SigmaP float64

	SigBox      float64
	SigPoly     float64
	SigRedNoise float64
}

// NewFrequency creates a record whose initial and current values match
func NewFrequency(f, a, p, epoch float64, index int, family Family) *Frequency {
	return &Frequency{
		F: f, A: a, P: p,
		F0: f, A0: a, P0: p,
		Epoch:  epoch,
		Index:  index,
		Family: family,
	}
}

// Update replaces the current frequency, amplitude and phase
func (fr *Frequency) Update(f, a, p float64) {
	fr.F, fr.A, fr.P = f, a, p
}

// Params returns the current frequency, amplitude and phase
func (fr *Frequency) Params() (f, a, p float64) {
	return fr.F, fr.A, fr.P
}

// Eval returns the term at time t
func (fr *Frequency) Eval(t float64) float64 {
	return fr.Family.Eval(t-fr.Epoch, fr.F, fr.A, fr.P)
}

// AdjustParams makes the amplitude positive and wraps the phase into [0, 1)
// without changing the modelled curve
func (fr *Frequency) AdjustParams() {
	if fr.A < 0 {
		fr.A = -fr.A
		fr.P += 0.5
	}
	if fr.P < 0 || fr.P >= 1 {
		fr.P -= math.Floor(fr.P)
	}
}

func (fr *Frequency) String() string {
	return fmt.Sprintf("f%d: f = %.5f | a = %.3f | phi = %.3f", fr.Index, fr.F, fr.A, fr.P)
}

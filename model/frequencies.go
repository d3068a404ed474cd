package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-whiten/algorithms/spectral"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
)

// ErrNoSignChanges is returned when a residual has no sign changes, leaving
// no independent noise realizations for the uncertainty estimate
var ErrNoSignChanges = errors.New("residual has no sign changes")

// Frequencies is an insertion-ordered collection of records, unique by identity
type Frequencies struct {
	list []*Frequency
}

// NewFrequencies creates a collection holding the given records
func NewFrequencies(records ...*Frequency) *Frequencies {
	fs := &Frequencies{}
	for _, r := range records {
		fs.Add(r)
	}
	return fs
}

// Add appends r. Adding a record already in the collection is a no-op.
func (fs *Frequencies) Add(r *Frequency) {
	if r == nil {
		return
	}
	for _, existing := range fs.list {
		if existing == r {
			return
		}
	}
	fs.list = append(fs.list, r)
}

// Remove deletes the record at position i
func (fs *Frequencies) Remove(i int) error {
	if i < 0 || i >= len(fs.list) {
		return fmt.Errorf("frequency index %d out of range [0, %d)", i, len(fs.list))
	}
	fs.list = append(fs.list[:i], fs.list[i+1:]...)
	return nil
}

func (fs *Frequencies) Len() int { return len(fs.list) }

// At returns the record at position i
func (fs *Frequencies) At(i int) *Frequency { return fs.list[i] }

// Last returns the most recently added record, or nil
func (fs *Frequencies) Last() *Frequency {
	if len(fs.list) == 0 {
		return nil
	}
	return fs.list[len(fs.list)-1]
}

// All returns the records in insertion order. The slice is a copy; the
// records are shared.
func (fs *Frequencies) All() []*Frequency {
	return append([]*Frequency(nil), fs.list...)
}

// Model evaluates the summed terms at each time, adding offset last
func (fs *Frequencies) Model(times []float64, offset float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		y := 0.0
		for _, r := range fs.list {
			y += r.Eval(t)
		}
		out[i] = y + offset
	}
	return out
}

// ComputeSignificances scores every record against the background of the
// residual periodogram with the box, polynomial and red-noise models
func (fs *Frequencies) ComputeSignificances(pg *spectral.Periodogram) error {
	for _, r := range fs.list {
		var err error
		if r.SigRedNoise, err = pg.SigRedNoise(r.F, math.Abs(r.A)); err != nil {
			return fmt.Errorf("red noise significance of f%d: %w", r.Index, err)
		}
		if r.SigBox, err = pg.SigBox(r.F, math.Abs(r.A)); err != nil {
			return fmt.Errorf("box significance of f%d: %w", r.Index, err)
		}
		if r.SigPoly, err = pg.SigPoly(r.F, math.Abs(r.A)); err != nil {
			return fmt.Errorf("polynomial significance of f%d: %w", r.Index, err)
		}
	}
	return nil
}

// ComputeUncertainties sets the analytic parameter uncertainties of every
// record from the final residual (Montgomery & O'Donoghue 1999 with the
// Schwarzenberg-Czerny correction):
//
//	σf = sqrt(6/N)·σ/(π·T·a)   σa = sqrt(2/N)·σ   σp = sqrt(2/N)·σ/a
//
// where N counts sign changes in the residual, σ is its population standard
// deviation and T its time span.
func (fs *Frequencies) ComputeUncertainties(residual *timeseries.Series) error {
	nEff := residual.SignChanges()
	if nEff == 0 {
		return ErrNoSignChanges
	}
	sigma := residual.Std()
	span := residual.Span()
	n := float64(nEff)

	for _, r := range fs.list {
		r.SigmaF = math.Sqrt(6/n) * sigma / (math.Pi * span * r.A)
		r.SigmaA = math.Sqrt(2/n) * sigma
		r.SigmaP = math.Sqrt(2/n) * sigma / r.A
	}
	return nil
}

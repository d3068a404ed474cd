package spectral

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNoiseFit is returned when a background model cannot be fitted to the spectrum
var ErrNoiseFit = errors.New("noise model fit failed")

// PolyFit is a polynomial in log10(frequency) describing log10(amplitude)
type PolyFit struct {
	Order        int
	Coefficients []float64 // ascending powers
}

// Noise returns the background amplitude 10^poly(log10 f)
func (pf *PolyFit) Noise(f float64) float64 {
	x := math.Log10(f)
	y := 0.0
	for i := len(pf.Coefficients) - 1; i >= 0; i-- {
		y = y*x + pf.Coefficients[i]
	}
	return math.Pow(10, y)
}

// PolyFit returns the cached log-log polynomial background, fitting it on first use
func (p *Periodogram) PolyFit() (*PolyFit, error) {
	p.polyOnce.Do(func() {
		p.poly, p.polyErr = fitPolynomial(p.freq, p.amp, p.noise.PolyOrder)
	})
	return p.poly, p.polyErr
}

// fitPolynomial solves the linear least squares problem in log10 space with a
// QR factorization. Zero amplitudes have no logarithm and are skipped.
func fitPolynomial(freq, amp []float64, order int) (*PolyFit, error) {
	if order < 0 {
		return nil, fmt.Errorf("%w: negative polynomial order %d", ErrNoiseFit, order)
	}
	var xs, ys []float64
	for i, a := range amp {
		if a > 0 {
			xs = append(xs, math.Log10(freq[i]))
			ys = append(ys, math.Log10(a))
		}
	}
	cols := order + 1
	if len(xs) < cols {
		return nil, fmt.Errorf("%w: %d positive amplitudes for a polynomial of order %d", ErrNoiseFit, len(xs), order)
	}

	vander := mat.NewDense(len(xs), cols, nil)
	for i, x := range xs {
		v := 1.0
		for j := range cols {
			vander.Set(i, j, v)
			v *= x
		}
	}

	var qr mat.QR
	qr.Factorize(vander)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, mat.NewVecDense(len(ys), ys)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return nil, fmt.Errorf("%w: %v", ErrNoiseFit, err)
		}
	}

	fit := &PolyFit{Order: order, Coefficients: make([]float64, cols)}
	for j := range cols {
		fit.Coefficients[j] = coef.AtVec(j)
	}
	return fit, nil
}

// SigPoly returns a / polynomial background at f
func (p *Periodogram) SigPoly(f, a float64) (float64, error) {
	fit, err := p.PolyFit()
	if err != nil {
		return 0, err
	}
	return a / fit.Noise(f), nil
}

// SigPolyAll evaluates SigPoly elementwise
func (p *Periodogram) SigPolyAll(fs, as []float64) ([]float64, error) {
	return elementwise(fs, as, p.SigPoly)
}

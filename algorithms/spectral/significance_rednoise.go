package spectral

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-whiten/algorithms/lsq"
	"gonum.org/v1/gonum/mat"
)

// RedNoiseFit holds the stochastic low-frequency background
//
//	noise(f) = Alpha0 / (1 + (f/X0)^Gamma) + Cw
//
// with the per-parameter variances of the fit in the order X0, Alpha0, Gamma, Cw
type RedNoiseFit struct {
	X0        float64
	Alpha0    float64
	Gamma     float64
	Cw        float64
	Variances []float64
	ChiSquare float64
}

// Noise evaluates the background at f
func (r *RedNoiseFit) Noise(f float64) float64 {
	return r.Alpha0/(1+math.Pow(f/r.X0, r.Gamma)) + r.Cw
}

// Params returns [X0, Alpha0, Gamma, Cw]
func (r *RedNoiseFit) Params() []float64 {
	return []float64{r.X0, r.Alpha0, r.Gamma, r.Cw}
}

const (
	redNoiseMinX0    = 1e-12
	redNoiseMaxGamma = 10
)

// RedNoiseFit returns the cached red-noise background, fitting it on first use
func (p *Periodogram) RedNoiseFit() (*RedNoiseFit, error) {
	p.redOnce.Do(func() {
		p.red, p.redErr = fitRedNoise(p.freq, p.amp, p.MeanAmplitude())
	})
	return p.red, p.redErr
}

// fitRedNoise fits the background by Levenberg-Marquardt from
// [0.5, mean(amplitude), 0.5, 0]. X0 stays positive and Gamma within
// [0, 10] so the power law cannot overflow.
func fitRedNoise(freq, amp []float64, mean float64) (*RedNoiseFit, error) {
	problem := &lsq.Problem{
		Params: []lsq.Param{
			{Name: "x0", Value: 0.5, Min: redNoiseMinX0, Max: math.Inf(1)},
			lsq.Free("alpha0", mean),
			lsq.Bounded("gamma", 0.5, 0, redNoiseMaxGamma),
			lsq.Free("cw", 0),
		},
		NumResiduals: len(freq),
		Residuals: func(dst, x []float64) {
			for i, f := range freq {
				u := math.Pow(f/x[0], x[2])
				dst[i] = amp[i] - (x[1]/(1+u) + x[3])
			}
		},
		Jacobian: func(dst *mat.Dense, x []float64) {
			for i, f := range freq {
				ratio := f / x[0]
				u := math.Pow(ratio, x[2])
				denom := 1 + u
				dmdu := -x[1] / (denom * denom)
				// residual = amp - model, so every column is the negated model derivative
				dst.Set(i, 0, -dmdu*(-x[2]/x[0]*u))
				dst.Set(i, 1, -1/denom)
				dst.Set(i, 2, -dmdu*u*math.Log(ratio))
				dst.Set(i, 3, -1)
			}
		},
	}

	res, err := (&lsq.LevenbergMarquardt{}).Solve(problem)
	if err != nil {
		return nil, fmt.Errorf("%w: red noise: %w", ErrNoiseFit, err)
	}
	v := res.Values()
	fit := &RedNoiseFit{
		X0:        v[0],
		Alpha0:    v[1],
		Gamma:     v[2],
		Cw:        v[3],
		Variances: res.Variances(),
		ChiSquare: res.ChiSquare,
	}
	if fit.Variances == nil {
		fit.Variances = []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	}
	return fit, nil
}

// SigRedNoise returns a / red-noise background at f
func (p *Periodogram) SigRedNoise(f, a float64) (float64, error) {
	fit, err := p.RedNoiseFit()
	if err != nil {
		return 0, err
	}
	return a / fit.Noise(f), nil
}

// SigRedNoiseAll evaluates SigRedNoise elementwise
func (p *Periodogram) SigRedNoiseAll(fs, as []float64) ([]float64, error) {
	return elementwise(fs, as, p.SigRedNoise)
}

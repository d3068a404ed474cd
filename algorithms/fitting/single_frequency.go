package fitting

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
	"github.com/RyanBlaney/sonido-whiten/algorithms/lsq"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"gonum.org/v1/gonum/mat"
)

// SingleResult is the outcome of a single-frequency fit
type SingleResult struct {
	Frequency float64
	Amplitude float64
	Phase     float64
	Model     []float64 // fitted term at the series times
	ChiSquare float64
	Attempts  int
}

// SingleFrequency fits one sinusoid to s starting from (f0, a0, p0), with
// f and a bounded relative to their guesses and p bounded absolutely. When
// the phase check is on and the fitted phase stays within 0.1 cycles of the
// guess, the guess is advanced by 0.17 cycles and the fit repeated, up to
// MaxPhaseRetries times; after that the lowest chi-square attempt is kept.
func (o *Optimizer) SingleFrequency(s *timeseries.Series, f0, a0, p0 float64) (*SingleResult, error) {
	guess := o.wrapPhase(p0)
	var best *SingleResult

	for attempt := 1; ; attempt++ {
		res, err := o.fitSingle(s, f0, a0, guess)
		if err != nil {
			return nil, fmt.Errorf("single frequency fit at f=%g (attempt %d): %w", f0, attempt, err)
		}
		res.Attempts = attempt

		if !o.cfg.PhaseCheck || math.Abs(res.Phase-guess) >= phaseMinShift {
			return res, nil
		}
		if best == nil || res.ChiSquare < best.ChiSquare {
			best = res
		}
		if attempt > o.cfg.MaxPhaseRetries {
			o.logger.Warn("Phase did not move from its initial guess, keeping best attempt", logging.Fields{
				"frequency": best.Frequency,
				"phase":     best.Phase,
				"attempts":  attempt,
			})
			best.Attempts = attempt
			return best, nil
		}

		o.logger.Debug("Phase stuck at initial guess, retrying", logging.Fields{
			"guess":  guess,
			"fitted": res.Phase,
		})
		guess = o.wrapPhase(guess + phaseRetryStep)
	}
}

// wrapPhase moves p by whole cycles into the phase bounds
func (o *Optimizer) wrapPhase(p float64) float64 {
	lo, hi := o.cfg.Bounds.PhaseLower, o.cfg.Bounds.PhaseUpper
	if hi-lo >= 1 {
		for p > hi {
			p--
		}
		for p < lo {
			p++
		}
	}
	return common.Clamp(p, lo, hi)
}

func (o *Optimizer) fitSingle(s *timeseries.Series, f0, a0, p0 float64) (*SingleResult, error) {
	times, values, errs := s.Time(), s.Data(), s.Err()
	epoch := o.cfg.T0
	fam := o.family

	problem := &lsq.Problem{
		Params: []lsq.Param{
			o.frequencyParam("f", f0),
			o.amplitudeParam("a", a0),
			o.phaseParam("p", p0),
		},
		NumResiduals: len(times),
		Residuals: func(dst, x []float64) {
			for i, t := range times {
				dst[i] = (values[i] - fam.Eval(t-epoch, x[0], x[1], x[2])) / errs[i]
			}
		},
		Jacobian: func(dst *mat.Dense, x []float64) {
			for i, t := range times {
				df, da, dp := fam.Partials(t-epoch, x[0], x[1], x[2])
				dst.Set(i, 0, -df/errs[i])
				dst.Set(i, 1, -da/errs[i])
				dst.Set(i, 2, -dp/errs[i])
			}
		},
	}

	fit, err := o.solver.Solve(problem)
	if err != nil {
		return nil, err
	}
	v := fit.Values()
	res := &SingleResult{
		Frequency: v[0],
		Amplitude: v[1],
		Phase:     v[2],
		Model:     make([]float64, len(times)),
		ChiSquare: fit.ChiSquare,
	}
	for i, t := range times {
		res.Model[i] = fam.Eval(t-epoch, v[0], v[1], v[2])
	}
	return res, nil
}

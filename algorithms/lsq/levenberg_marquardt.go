package lsq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LevenbergMarquardt solves bounded least squares problems with a damped
// Gauss-Newton iteration on the normal equations. Damping is multiplicative:
// lambda grows by 10 on a rejected step and shrinks by 10 on an accepted one.
type LevenbergMarquardt struct {
	Settings Settings
}

const (
	lambdaInit     = 1e-3
	lambdaMax      = 1e16
	diagonalFloor  = 1e-12
	lambdaIncrease = 10.0
	lambdaDecrease = 10.0
)

func (lm *LevenbergMarquardt) Name() string { return MethodLeastSquares }

// Solve runs the iteration from the problem's initial values
func (lm *LevenbergMarquardt) Solve(p *Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sp := newSpace(p)
	n, dim := p.NumResiduals, sp.dim()
	settings := lm.Settings.withDefaults(dim)

	u := sp.initial()
	r := make([]float64, n)
	sp.residuals(r, u)
	chi2 := chiSquare(r)
	if !finite(chi2) {
		return nil, fmt.Errorf("%w: chi-square %g at initial values", ErrNonFinite, chi2)
	}

	result := func(iter int, jac *mat.Dense) *Result {
		res := &Result{
			Params:     sp.result(u),
			ChiSquare:  chi2,
			Iterations: iter,
			Method:     lm.Name(),
		}
		if jac != nil {
			res.Covariance = sp.covariance(jac, u, chi2)
		}
		return res
	}
	if dim == 0 {
		return result(0, nil), nil
	}

	jac := mat.NewDense(n, dim, nil)
	grad := mat.NewVecDense(dim, nil)
	step := mat.NewVecDense(dim, nil)
	trial := make([]float64, dim)
	rTrial := make([]float64, n)
	damped := mat.NewSymDense(dim, nil)
	var ata mat.SymDense
	var chol mat.Cholesky

	lambda := lambdaInit
	for iter := 1; iter <= settings.MaxIterations; iter++ {
		sp.jacobian(jac, u, r)
		ata.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(n, r))

		if chi2 == 0 || mat.Norm(grad, math.Inf(1)) == 0 {
			return result(iter, jac), nil
		}

		for {
			damped.CopySym(&ata)
			for i := range dim {
				d := math.Max(ata.At(i, i), diagonalFloor)
				damped.SetSym(i, i, ata.At(i, i)+lambda*d)
			}

			accepted := false
			if chol.Factorize(damped) && chol.SolveVecTo(step, grad) == nil {
				for i := range dim {
					trial[i] = u[i] - step.AtVec(i)
				}
				sp.residuals(rTrial, trial)
				chiTrial := chiSquare(rTrial)

				if finite(chiTrial) && chiTrial <= chi2 {
					accepted = true
					reduction := chi2 - chiTrial
					stepNorm := floats.Norm(step.RawVector().Data, 2)
					xNorm := floats.Norm(u, 2)

					copy(u, trial)
					copy(r, rTrial)
					chi2 = chiTrial
					lambda /= lambdaDecrease

					if reduction <= settings.Tolerance*chi2 || stepNorm <= settings.Tolerance*(xNorm+settings.Tolerance) {
						sp.jacobian(jac, u, r)
						return result(iter, jac), nil
					}
				}
			}
			if accepted {
				break
			}

			lambda *= lambdaIncrease
			if lambda > lambdaMax {
				// no descent direction left at machine precision
				return result(iter, jac), nil
			}
		}
	}

	return result(settings.MaxIterations, jac), fmt.Errorf("%w after %d iterations (chi-square %g)",
		ErrNotConverged, settings.MaxIterations, chi2)
}

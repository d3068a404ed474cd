package lsq

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Minimizer adapts gonum's general-purpose minimizers to least squares
// problems by minimizing the chi-square directly in the bounded space.
type Minimizer struct {
	Settings Settings
	Method   string // MethodBFGS or MethodNelderMead
}

func (m *Minimizer) Name() string { return m.Method }

// Solve minimizes the chi-square from the problem's initial values
func (m *Minimizer) Solve(p *Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sp := newSpace(p)
	n, dim := p.NumResiduals, sp.dim()
	settings := m.Settings.withDefaults(dim)

	u0 := sp.initial()
	r := make([]float64, n)
	sp.residuals(r, u0)
	if chi2 := chiSquare(r); !finite(chi2) {
		return nil, fmt.Errorf("%w: chi-square %g at initial values", ErrNonFinite, chi2)
	}

	jac := mat.NewDense(n, max(dim, 1), nil)
	if dim == 0 {
		return &Result{Params: sp.result(u0), ChiSquare: chiSquare(r), Method: m.Name()}, nil
	}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			sp.residuals(r, u)
			chi2 := chiSquare(r)
			if !finite(chi2) {
				return math.Inf(1)
			}
			return chi2
		},
	}

	var method optimize.Method
	switch m.Method {
	case MethodBFGS:
		problem.Grad = func(grad, u []float64) {
			sp.residuals(r, u)
			sp.jacobian(jac, u, r)
			g := mat.NewVecDense(dim, grad)
			g.MulVec(jac.T(), mat.NewVecDense(n, r))
			g.ScaleVec(2, g)
		}
		method = &optimize.BFGS{}
	case MethodNelderMead:
		method = &optimize.NelderMead{}
	default:
		return nil, fmt.Errorf("unknown solver %q", m.Method)
	}

	opt, err := optimize.Minimize(problem, u0, &optimize.Settings{
		MajorIterations: settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   settings.Tolerance * settings.Tolerance,
			Relative:   settings.Tolerance,
			Iterations: 20,
		},
	}, method)
	if err != nil && opt == nil {
		return nil, fmt.Errorf("%s: %w", m.Method, err)
	}

	u := opt.X
	sp.residuals(r, u)
	chi2 := chiSquare(r)
	sp.jacobian(jac, u, r)
	res := &Result{
		Params:     sp.result(u),
		ChiSquare:  chi2,
		Covariance: sp.covariance(jac, u, chi2),
		Iterations: opt.Stats.MajorIterations,
		Method:     m.Name(),
	}

	if !finite(chi2) {
		return res, fmt.Errorf("%w: chi-square %g after %s", ErrNonFinite, chi2, m.Method)
	}
	if stalled(err) {
		// the line search cannot improve on the current point
		return res, nil
	}
	if err != nil || opt.Status.Early() {
		return res, fmt.Errorf("%w: %s stopped with status %v: %v", ErrNotConverged, m.Method, opt.Status, err)
	}
	return res, nil
}

func stalled(err error) bool {
	return errors.Is(err, optimize.ErrNoProgress) || errors.Is(err, optimize.ErrLinesearcherFailure)
}

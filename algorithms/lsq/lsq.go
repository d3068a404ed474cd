package lsq

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotConverged is returned when a solver exhausts its iteration budget
	ErrNotConverged = errors.New("least squares: fit did not converge")

	// ErrNonFinite is returned when the objective cannot be evaluated at the start point
	ErrNonFinite = errors.New("least squares: non-finite residuals")

	// ErrInvalidProblem marks malformed problem definitions
	ErrInvalidProblem = errors.New("least squares: invalid problem")
)

// Param is one model parameter with optional bounds. Use ±Inf for an open side.
type Param struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
	Fixed bool
}

// Free returns an unbounded parameter
func Free(name string, value float64) Param {
	return Param{Name: name, Value: value, Min: math.Inf(-1), Max: math.Inf(1)}
}

// Bounded returns a parameter restricted to [min, max]. Swapped bounds are
// reordered and equal bounds fix the parameter.
func Bounded(name string, value, min, max float64) Param {
	if min > max {
		min, max = max, min
	}
	return Param{Name: name, Value: value, Min: min, Max: max, Fixed: min == max}
}

// Problem describes a weighted least squares problem in external parameter
// space. Residuals must already be divided by the data uncertainties.
type Problem struct {
	Params       []Param
	NumResiduals int

	// Residuals writes the residual vector for parameter values x into dst
	Residuals func(dst, x []float64)

	// Jacobian writes d(residual_i)/d(x_j) into dst (NumResiduals x len(Params)).
	// When nil a forward-difference approximation is used.
	Jacobian func(dst *mat.Dense, x []float64)
}

func (p *Problem) validate() error {
	if len(p.Params) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidProblem)
	}
	if p.NumResiduals < 1 || p.Residuals == nil {
		return fmt.Errorf("%w: residual function and count are required", ErrInvalidProblem)
	}
	for _, prm := range p.Params {
		if math.IsNaN(prm.Value) || math.IsInf(prm.Value, 0) {
			return fmt.Errorf("%w: parameter %s has non-finite initial value", ErrInvalidProblem, prm.Name)
		}
		if prm.Min > prm.Max {
			return fmt.Errorf("%w: parameter %s has min %g > max %g", ErrInvalidProblem, prm.Name, prm.Min, prm.Max)
		}
	}
	return nil
}

// Result holds the best-fit parameters in external space
type Result struct {
	Params     []Param // copies of the problem parameters with fitted values
	ChiSquare  float64
	Covariance *mat.SymDense // nil when it could not be estimated
	Iterations int
	Method     string
}

// Values returns the fitted parameter values in problem order
func (r *Result) Values() []float64 {
	v := make([]float64, len(r.Params))
	for i, p := range r.Params {
		v[i] = p.Value
	}
	return v
}

// Value returns the fitted value of the named parameter
func (r *Result) Value(name string) (float64, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// Variances returns the covariance diagonal, or nil without a covariance
func (r *Result) Variances() []float64 {
	if r.Covariance == nil {
		return nil
	}
	n := r.Covariance.SymmetricDim()
	v := make([]float64, n)
	for i := range n {
		v[i] = r.Covariance.At(i, i)
	}
	return v
}

// Settings bounds the work a solver may do
type Settings struct {
	MaxIterations int     // 0 picks 200*(free params+1)
	Tolerance     float64 // relative chi-square and step tolerance, 0 picks 1.5e-8
}

func (s Settings) withDefaults(free int) Settings {
	if s.MaxIterations <= 0 {
		s.MaxIterations = 200 * (free + 1)
	}
	if !(s.Tolerance > 0) {
		s.Tolerance = 1.5e-8
	}
	return s
}

// Solver minimizes the chi-square of a Problem
type Solver interface {
	Solve(p *Problem) (*Result, error)
	Name() string
}

// Solver names accepted by NewSolver
const (
	MethodLeastSquares = "leastsq"
	MethodBFGS         = "bfgs"
	MethodNelderMead   = "nelder-mead"
)

// NewSolver creates the solver registered under method
func NewSolver(method string, settings Settings) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodLeastSquares, "lm", "levenberg-marquardt":
		return &LevenbergMarquardt{Settings: settings}, nil
	case MethodBFGS:
		return &Minimizer{Settings: settings, Method: MethodBFGS}, nil
	case MethodNelderMead, "neldermead", "nelder":
		return &Minimizer{Settings: settings, Method: MethodNelderMead}, nil
	default:
		return nil, fmt.Errorf("unknown solver %q", method)
	}
}

func chiSquare(r []float64) float64 {
	sum := 0.0
	for _, v := range r {
		sum += v * v
	}
	return sum
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

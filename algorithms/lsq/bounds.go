package lsq

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// space maps the free parameters of a Problem onto an unconstrained internal
// vector using the MINUIT transforms:
//
//	both bounds: ext = min + (sin(u)+1)(max-min)/2
//	min only:    ext = min - 1 + sqrt(u^2+1)
//	max only:    ext = max + 1 - sqrt(u^2+1)
type space struct {
	problem *Problem
	free    []int     // problem index of each internal coordinate
	ext     []float64 // scratch external vector, fixed entries preset
	resid   []float64
	full    *mat.Dense // Jacobian in external space
}

func newSpace(p *Problem) *space {
	s := &space{
		problem: p,
		ext:     make([]float64, len(p.Params)),
		resid:   make([]float64, p.NumResiduals),
	}
	for i, prm := range p.Params {
		s.ext[i] = clampParam(prm)
		if !prm.Fixed {
			s.free = append(s.free, i)
		}
	}
	return s
}

func clampParam(p Param) float64 {
	v := p.Value
	if v < p.Min {
		v = p.Min
	}
	if v > p.Max {
		v = p.Max
	}
	return v
}

func hasMin(p Param) bool { return !math.IsInf(p.Min, -1) }
func hasMax(p Param) bool { return !math.IsInf(p.Max, 1) }

func toInternal(p Param, v float64) float64 {
	switch {
	case hasMin(p) && hasMax(p):
		x := 2*(v-p.Min)/(p.Max-p.Min) - 1
		return math.Asin(math.Max(-1, math.Min(1, x)))
	case hasMin(p):
		return math.Sqrt(math.Max(0, (v-p.Min+1)*(v-p.Min+1)-1))
	case hasMax(p):
		return math.Sqrt(math.Max(0, (p.Max-v+1)*(p.Max-v+1)-1))
	default:
		return v
	}
}

func toExternal(p Param, u float64) float64 {
	switch {
	case hasMin(p) && hasMax(p):
		return p.Min + (math.Sin(u)+1)*(p.Max-p.Min)/2
	case hasMin(p):
		return p.Min - 1 + math.Sqrt(u*u+1)
	case hasMax(p):
		return p.Max + 1 - math.Sqrt(u*u+1)
	default:
		return u
	}
}

// gradient returns d(ext)/d(u)
func gradient(p Param, u float64) float64 {
	switch {
	case hasMin(p) && hasMax(p):
		return math.Cos(u) * (p.Max - p.Min) / 2
	case hasMin(p):
		return u / math.Sqrt(u*u+1)
	case hasMax(p):
		return -u / math.Sqrt(u*u+1)
	default:
		return 1
	}
}

func (s *space) dim() int { return len(s.free) }

func (s *space) initial() []float64 {
	u := make([]float64, len(s.free))
	for k, i := range s.free {
		u[k] = toInternal(s.problem.Params[i], s.ext[i])
	}
	return u
}

// external fills the scratch external vector for internal point u
func (s *space) external(u []float64) []float64 {
	for k, i := range s.free {
		s.ext[i] = toExternal(s.problem.Params[i], u[k])
	}
	return s.ext
}

// residuals evaluates the problem at internal point u into dst
func (s *space) residuals(dst, u []float64) {
	s.problem.Residuals(dst, s.external(u))
}

// jacobian fills dst (NumResiduals x dim) with d(residual)/d(u)
func (s *space) jacobian(dst *mat.Dense, u []float64, r0 []float64) {
	if s.problem.Jacobian == nil {
		s.numericJacobian(dst, u, r0)
		return
	}
	if s.full == nil {
		s.full = mat.NewDense(s.problem.NumResiduals, len(s.problem.Params), nil)
	}
	s.problem.Jacobian(s.full, s.external(u))
	for k, i := range s.free {
		g := gradient(s.problem.Params[i], u[k])
		for row := range s.problem.NumResiduals {
			v := s.full.At(row, i) * g
			if !finite(v) {
				v = 0
			}
			dst.Set(row, k, v)
		}
	}
}

func (s *space) numericJacobian(dst *mat.Dense, u []float64, r0 []float64) {
	x := make([]float64, len(u))
	copy(x, u)
	for k := range x {
		h := math.Sqrt(epsilon) * math.Max(math.Abs(x[k]), 1)
		orig := x[k]
		x[k] = orig + h
		s.residuals(s.resid, x)
		x[k] = orig
		for row, v := range s.resid {
			d := (v - r0[row]) / h
			if !finite(d) {
				d = 0
			}
			dst.Set(row, k, d)
		}
	}
}

// result packs internal point u into external parameters
func (s *space) result(u []float64) []Param {
	out := make([]Param, len(s.problem.Params))
	copy(out, s.problem.Params)
	ext := s.external(u)
	for i := range out {
		out[i].Value = ext[i]
	}
	return out
}

// covariance turns the internal Jacobian at the optimum into the external
// covariance matrix, scaled by the reduced chi-square. Fixed parameters get
// zero rows and columns.
func (s *space) covariance(jac *mat.Dense, u []float64, chi2 float64) *mat.SymDense {
	n, p := s.problem.NumResiduals, s.dim()
	if n <= p || p == 0 {
		return nil
	}
	var ata mat.SymDense
	ata.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if !chol.Factorize(&ata) {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil
	}

	scale := chi2 / float64(n-p)
	if !(scale > 0) {
		scale = 1
	}
	cov := mat.NewSymDense(len(s.problem.Params), nil)
	for a, i := range s.free {
		ga := gradient(s.problem.Params[i], u[a])
		for b := a; b < p; b++ {
			j := s.free[b]
			gb := gradient(s.problem.Params[j], u[b])
			cov.SetSym(i, j, inv.At(a, b)*ga*gb*scale)
		}
	}
	return cov
}

const epsilon = 2.220446049250313e-16

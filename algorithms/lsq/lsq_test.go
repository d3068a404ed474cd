package lsq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func decayProblem(t, y []float64, a0, k0 float64, analytic bool) *Problem {
	p := &Problem{
		Params:       []Param{Free("a", a0), Bounded("k", k0, 0, 5)},
		NumResiduals: len(t),
		Residuals: func(dst, x []float64) {
			for i := range t {
				dst[i] = y[i] - x[0]*math.Exp(-x[1]*t[i])
			}
		},
	}
	if analytic {
		p.Jacobian = func(dst *mat.Dense, x []float64) {
			for i := range t {
				e := math.Exp(-x[1] * t[i])
				dst.Set(i, 0, -e)
				dst.Set(i, 1, x[0]*t[i]*e)
			}
		}
	}
	return p
}

func decayData() ([]float64, []float64) {
	t := make([]float64, 40)
	y := make([]float64, 40)
	for i := range t {
		t[i] = float64(i) * 0.1
		y[i] = 3 * math.Exp(-0.7*t[i])
		if i%2 == 0 {
			y[i] += 1e-3
		} else {
			y[i] -= 1e-3
		}
	}
	return t, y
}

func TestTransformRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		param Param
	}{
		{"free", Free("x", -3.2)},
		{"both", Bounded("x", 0.3, 0, 1)},
		{"min only", Param{Name: "x", Value: 4, Min: 1, Max: math.Inf(1)}},
		{"max only", Param{Name: "x", Value: -2, Min: math.Inf(-1), Max: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := toInternal(tc.param, tc.param.Value)
			assert.InDelta(t, tc.param.Value, toExternal(tc.param, u), 1e-12)

			h := 1e-6
			numeric := (toExternal(tc.param, u+h) - toExternal(tc.param, u-h)) / (2 * h)
			assert.InDelta(t, numeric, gradient(tc.param, u), 1e-6)
		})
	}
}

func TestBounded(t *testing.T) {
	p := Bounded("a", 1, 2, -2)
	assert.Equal(t, -2.0, p.Min)
	assert.Equal(t, 2.0, p.Max)
	assert.False(t, p.Fixed)

	fixed := Bounded("b", 3, 3, 3)
	assert.True(t, fixed.Fixed)
}

func TestLevenbergMarquardt(t *testing.T) {
	ts, ys := decayData()

	for _, analytic := range []bool{true, false} {
		solver := &LevenbergMarquardt{}
		res, err := solver.Solve(decayProblem(ts, ys, 1, 2, analytic))
		require.NoError(t, err)

		a, _ := res.Value("a")
		k, _ := res.Value("k")
		assert.InDelta(t, 3.0, a, 1e-2)
		assert.InDelta(t, 0.7, k, 1e-2)
		assert.Less(t, res.ChiSquare, 1e-4)

		require.NotNil(t, res.Covariance)
		for _, v := range res.Variances() {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestLevenbergMarquardtRespectsBounds(t *testing.T) {
	ts, ys := decayData()
	p := decayProblem(ts, ys, 1, 0.3, true)
	p.Params[1] = Bounded("k", 0.3, 0.1, 0.5)

	res, err := (&LevenbergMarquardt{}).Solve(p)
	require.NoError(t, err)
	k, _ := res.Value("k")
	assert.LessOrEqual(t, k, 0.5)
	assert.InDelta(t, 0.5, k, 1e-3)
}

func TestLevenbergMarquardtFixedParameter(t *testing.T) {
	ts, ys := decayData()
	p := decayProblem(ts, ys, 1, 0.7, true)
	p.Params[1] = Bounded("k", 0.7, 0.7, 0.7)

	res, err := (&LevenbergMarquardt{}).Solve(p)
	require.NoError(t, err)
	k, _ := res.Value("k")
	a, _ := res.Value("a")
	assert.Equal(t, 0.7, k)
	assert.InDelta(t, 3.0, a, 1e-2)
	assert.Equal(t, 0.0, res.Covariance.At(1, 1))
}

func TestLevenbergMarquardtNotConverged(t *testing.T) {
	rosenbrock := &Problem{
		Params:       []Param{Free("x", -1.2), Free("y", 1)},
		NumResiduals: 2,
		Residuals: func(dst, x []float64) {
			dst[0] = 10 * (x[1] - x[0]*x[0])
			dst[1] = 1 - x[0]
		},
	}
	_, err := (&LevenbergMarquardt{Settings: Settings{MaxIterations: 1}}).Solve(rosenbrock)
	assert.ErrorIs(t, err, ErrNotConverged)

	res, err := (&LevenbergMarquardt{}).Solve(rosenbrock)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1}, res.Values(), 1e-4)
}

func TestNonFiniteStart(t *testing.T) {
	p := &Problem{
		Params:       []Param{Free("x", 0)},
		NumResiduals: 1,
		Residuals: func(dst, x []float64) {
			dst[0] = 1 / x[0]
		},
	}
	for _, method := range []string{MethodLeastSquares, MethodBFGS, MethodNelderMead} {
		solver, err := NewSolver(method, Settings{})
		require.NoError(t, err)
		_, err = solver.Solve(p)
		assert.ErrorIs(t, err, ErrNonFinite, method)
	}
}

func TestInvalidProblem(t *testing.T) {
	_, err := (&LevenbergMarquardt{}).Solve(&Problem{})
	assert.ErrorIs(t, err, ErrInvalidProblem)

	_, err = NewSolver("simplex-annealing", Settings{})
	assert.Error(t, err)
}

func TestGonumMinimizers(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4, 5}
	line := func() *Problem {
		return &Problem{
			Params:       []Param{Free("m", 0.5), Bounded("c", 0, -5, 5)},
			NumResiduals: len(xs),
			Residuals: func(dst, x []float64) {
				for i, v := range xs {
					dst[i] = 2*v + 1 - (x[0]*v + x[1])
				}
			},
		}
	}

	for _, method := range []string{MethodBFGS, MethodNelderMead} {
		t.Run(method, func(t *testing.T) {
			solver, err := NewSolver(method, Settings{MaxIterations: 5000})
			require.NoError(t, err)
			assert.Equal(t, method, solver.Name())

			res, err := solver.Solve(line())
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{2, 1}, res.Values(), 1e-3)
			assert.Less(t, res.ChiSquare, 1e-5)
		})
	}
}

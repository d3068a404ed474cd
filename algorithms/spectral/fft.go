package spectral

import (
	"math"
	"math/cmplx"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
	"github.com/mjibson/go-dsp/fft"
)

// FFT evaluates trigonometric sums over a uniform frequency grid with the
// Press & Rybicki extirpolation scheme: the weighted samples are spread onto a
// regular mesh by Lagrange extirpolation and the sums come from one inverse FFT.
type FFT struct {
	oversampling int // mesh points per grid frequency
	order        int // extirpolation order
}

// NewFFT creates a trig-sum evaluator. Values below the minimum are raised.
func NewFFT(oversampling, order int) *FFT {
	return &FFT{
		oversampling: max(oversampling, 1),
		order:        max(order, 2),
	}
}

// TrigSums returns S_k = sum_j h_j sin(2π f_k t_j) and C_k = sum_j h_j cos(2π f_k t_j)
// for f_k = factor·(f0 + k·df), k = 0..n-1.
func (f *FFT) TrigSums(t, h []float64, f0, df float64, n int, factor float64) (s, c []float64) {
	s = make([]float64, n)
	c = make([]float64, n)
	if n == 0 || len(t) == 0 {
		return s, c
	}
	f0 *= factor
	df *= factor

	nfft := common.NextPowerOfTwo(n * f.oversampling)
	nfft = max(nfft, common.NextPowerOfTwo(f.order))
	t0 := t[0]
	for _, v := range t {
		t0 = math.Min(t0, v)
	}

	weights := make([]complex128, len(h))
	mesh := make([]float64, len(t))
	for j := range t {
		dt := t[j] - t0
		weights[j] = complex(h[j], 0)
		if f0 > 0 {
			weights[j] *= cmplx.Exp(complex(0, 2*math.Pi*f0*dt))
		}
		mesh[j] = math.Mod(dt*float64(nfft)*df, float64(nfft))
	}

	grid := extirpolate(mesh, weights, nfft, f.order)
	spectrum := fft.IFFT(grid)

	scale := complex(float64(nfft), 0)
	for k := range n {
		v := spectrum[k] * scale
		if t0 != 0 {
			v *= cmplx.Exp(complex(0, 2*math.Pi*t0*(f0+df*float64(k))))
		}
		c[k] = real(v)
		s[k] = imag(v)
	}
	return s, c
}

// extirpolate spreads y at fractional positions x onto n integer points so that
// sum_i result[i]·g(i) approximates sum_j y_j·g(x_j) for smooth g
func extirpolate(x []float64, y []complex128, n, order int) []complex128 {
	result := make([]complex128, n)

	factorial := 1.0
	for i := 2; i < order; i++ {
		factorial *= float64(i)
	}

	for j, xj := range x {
		if xj == math.Floor(xj) {
			result[int(xj)%n] += y[j]
			continue
		}

		ilo := int(xj - float64(order/2))
		ilo = min(max(ilo, 0), n-order)

		numerator := y[j]
		for k := range order {
			numerator *= complex(xj-float64(ilo+k), 0)
		}

		denominator := factorial
		for k := range order {
			if k > 0 {
				denominator *= float64(k) / float64(k-order)
			}
			idx := ilo + (order - 1 - k)
			result[idx] += numerator / complex(denominator*(xj-float64(idx)), 0)
		}
	}
	return result
}

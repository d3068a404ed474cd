package spectral

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
)

var (
	// ErrDegenerateSeries is returned for series without a usable time span
	ErrDegenerateSeries = errors.New("degenerate time series")

	// ErrInvalidGrid is returned for frequency grids that are not strictly
	// increasing, positive and at least two points long
	ErrInvalidGrid = errors.New("invalid frequency grid")
)

// Estimator evaluation methods
const (
	MethodAuto   = "auto"
	MethodFast   = "fast"
	MethodDirect = "direct"
)

// fastThreshold is the sample count above which "auto" switches to the FFT method
const fastThreshold = 200

// Transform computes generalized (floating mean) Lomb-Scargle amplitude
// spectra of time series
type Transform struct {
	cfg    config.PeriodogramConfig
	noise  config.SignificanceConfig
	fft    *FFT
	logger logging.Logger
}

// TransformOption configures a Transform
type TransformOption func(*Transform)

// WithTransformLogger sets the logger used for grid and method diagnostics
func WithTransformLogger(logger logging.Logger) TransformOption {
	return func(t *Transform) {
		t.logger = logging.OrNoOp(logger)
	}
}

// NewTransform creates a transform. noise is handed to every periodogram it produces.
func NewTransform(cfg config.PeriodogramConfig, noise config.SignificanceConfig, opts ...TransformOption) (*Transform, error) {
	switch strings.ToLower(cfg.Method) {
	case "", MethodAuto, MethodFast, MethodDirect:
	default:
		return nil, fmt.Errorf("%w: unknown periodogram method %q", config.ErrInvalidConfig, cfg.Method)
	}
	if cfg.PointsPerResolutionElement < 1 {
		return nil, fmt.Errorf("%w: points_per_resolution_element must be >= 1", config.ErrInvalidConfig)
	}

	t := &Transform{
		cfg:    cfg,
		noise:  noise,
		fft:    NewFFT(cfg.FastOversampling, cfg.FastOrder),
		logger: &logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ResolutionUnit returns 1.5/T, the smallest resolvable frequency separation
func ResolutionUnit(s *timeseries.Series) float64 {
	return 1.5 / s.Span()
}

// Nyquist returns the approximate Nyquist frequency N/(2T)
func Nyquist(s *timeseries.Series) float64 {
	return float64(s.Len()) / (2 * s.Span())
}

// Grid builds the default frequency grid for s
func (t *Transform) Grid(s *timeseries.Series) ([]float64, error) {
	if s == nil || s.Len() < 2 || !(s.Span() > 0) {
		return nil, ErrDegenerateSeries
	}

	res := ResolutionUnit(s)
	lower := res
	if strings.EqualFold(t.cfg.LowerBound, "zero") {
		lower = 0
	}
	if t.cfg.MinFrequency > 0 {
		lower = t.cfg.MinFrequency
	}
	upper := Nyquist(s)
	if t.cfg.MaxFrequency > 0 {
		upper = t.cfg.MaxFrequency
	}

	step := res / float64(t.cfg.PointsPerResolutionElement)
	first := 0
	if lower <= 0 {
		lower, first = 0, 1
	}
	count := int(math.Floor((upper-lower)/step+1e-9)) + 1

	if count-first < 2 {
		return nil, fmt.Errorf("%w: [%g, %g] with step %g holds fewer than 2 points", ErrInvalidGrid, lower, upper, step)
	}

	grid := make([]float64, 0, count-first)
	for k := first; k < count; k++ {
		grid = append(grid, lower+float64(k)*step)
	}
	return grid, nil
}

// Compute returns the periodogram of s over its default grid
func (t *Transform) Compute(s *timeseries.Series) (*Periodogram, error) {
	grid, err := t.Grid(s)
	if err != nil {
		return nil, err
	}
	return t.ComputeOnGrid(s, grid)
}

// ComputeOnGrid returns the periodogram of s over an explicit grid
func (t *Transform) ComputeOnGrid(s *timeseries.Series, grid []float64) (*Periodogram, error) {
	if s == nil || s.Len() < 2 || !(s.Span() > 0) {
		return nil, ErrDegenerateSeries
	}
	if err := validateGrid(grid); err != nil {
		return nil, err
	}

	times, values := s.Time(), s.Data()
	n := len(times)

	// normalized weights, floating mean removed
	w := make([]float64, n)
	if t.cfg.UseWeights {
		for i, e := range s.Err() {
			w[i] = 1 / (e * e)
		}
	} else {
		for i := range w {
			w[i] = 1
		}
	}
	wsum := 0.0
	for _, v := range w {
		wsum += v
	}
	mean := 0.0
	for i := range w {
		w[i] /= wsum
		mean += w[i] * values[i]
	}
	wy := make([]float64, n)
	for i := range wy {
		wy[i] = w[i] * (values[i] - mean)
	}

	// shift to the first sample; the power does not depend on the time origin
	t0 := times[0]
	for _, v := range times {
		t0 = math.Min(t0, v)
	}
	shifted := make([]float64, n)
	for i, v := range times {
		shifted[i] = v - t0
	}

	var sums trigTerms
	step, uniform := common.UniformStep(grid, 1e-6)
	method := t.method(n, uniform)
	switch {
	case method == MethodFast && uniform:
		sums = t.fastSums(shifted, w, wy, grid[0], step, len(grid))
	case uniform:
		sums = recurrenceSums(shifted, w, wy, grid[0], step, len(grid))
	default:
		sums = directSums(shifted, w, wy, grid)
	}
	t.logger.Debug("Computed periodogram", logging.Fields{
		"samples": n,
		"points":  len(grid),
		"method":  method,
		"uniform": uniform,
	})

	amps := make([]float64, len(grid))
	for k := range grid {
		amps[k] = sums.amplitude(k)
	}
	return NewPeriodogram(grid, amps, t.noise)
}

func (t *Transform) method(samples int, uniform bool) string {
	switch strings.ToLower(t.cfg.Method) {
	case MethodFast:
		if !uniform {
			t.logger.Warn("Fast periodogram needs a uniform grid, using direct sums")
			return MethodDirect
		}
		return MethodFast
	case MethodDirect:
		return MethodDirect
	default:
		if uniform && samples > fastThreshold {
			return MethodFast
		}
		return MethodDirect
	}
}

func validateGrid(grid []float64) error {
	if len(grid) < 2 {
		return fmt.Errorf("%w: %d points", ErrInvalidGrid, len(grid))
	}
	if !common.AllFinite(grid) || !(grid[0] > 0) {
		return fmt.Errorf("%w: frequencies must be positive and finite", ErrInvalidGrid)
	}
	if !common.StrictlyIncreasing(grid) {
		return fmt.Errorf("%w: frequencies must be strictly increasing", ErrInvalidGrid)
	}
	return nil
}

// trigTerms holds the weighted trigonometric sums of the generalized
// Lomb-Scargle periodogram at every grid frequency
type trigTerms struct {
	c, s   []float64 // sum w cos(wt), sum w sin(wt)
	c2, s2 []float64 // sum w cos(2wt), sum w sin(2wt)
	yc, ys []float64 // sum w (y - mean) cos(wt), sum w (y - mean) sin(wt)
}

func newTrigTerms(m int) trigTerms {
	return trigTerms{
		c: make([]float64, m), s: make([]float64, m),
		c2: make([]float64, m), s2: make([]float64, m),
		yc: make([]float64, m), ys: make([]float64, m),
	}
}

// amplitude converts the sums at grid index k into a semi-amplitude:
// sqrt(2·Δχ²) with Δχ² the chi-square reduction of a floating-mean sinusoid fit
func (tt trigTerms) amplitude(k int) float64 {
	cc := 0.5*(1+tt.c2[k]) - tt.c[k]*tt.c[k]
	ss := 0.5*(1-tt.c2[k]) - tt.s[k]*tt.s[k]
	cs := 0.5*tt.s2[k] - tt.c[k]*tt.s[k]
	d := cc*ss - cs*cs
	if !(d > 1e-300) {
		return 0
	}
	yc, ys := tt.yc[k], tt.ys[k]
	reduction := (ss*yc*yc + cc*ys*ys - 2*cs*yc*ys) / d
	amp := math.Sqrt(2 * math.Abs(reduction))
	if math.IsNaN(amp) || math.IsInf(amp, 0) {
		return 0
	}
	return amp
}

// directSums evaluates every sum exactly for an arbitrary grid
func directSums(t, w, wy, grid []float64) trigTerms {
	tt := newTrigTerms(len(grid))
	for k, f := range grid {
		omega := 2 * math.Pi * f
		for j := range t {
			sin, cos := math.Sincos(omega * t[j])
			tt.c[k] += w[j] * cos
			tt.s[k] += w[j] * sin
			tt.c2[k] += w[j] * (cos*cos - sin*sin)
			tt.s2[k] += w[j] * 2 * sin * cos
			tt.yc[k] += wy[j] * cos
			tt.ys[k] += wy[j] * sin
		}
	}
	return tt
}

// recurrenceSums evaluates the exact sums on a uniform grid by rotating each
// sample's phasor one grid step at a time
func recurrenceSums(t, w, wy []float64, f0, df float64, m int) trigTerms {
	tt := newTrigTerms(m)
	for j := range t {
		sin, cos := math.Sincos(2 * math.Pi * f0 * t[j])
		dsin, dcos := math.Sincos(2 * math.Pi * df * t[j])
		for k := range m {
			tt.c[k] += w[j] * cos
			tt.s[k] += w[j] * sin
			tt.c2[k] += w[j] * (cos*cos - sin*sin)
			tt.s2[k] += w[j] * 2 * sin * cos
			tt.yc[k] += wy[j] * cos
			tt.ys[k] += wy[j] * sin
			sin, cos = sin*dcos+cos*dsin, cos*dcos-sin*dsin
		}
	}
	return tt
}

// fastSums approximates the sums on a uniform grid with extirpolation and FFT
func (t *Transform) fastSums(times, w, wy []float64, f0, df float64, m int) trigTerms {
	tt := trigTerms{}
	tt.s, tt.c = t.fft.TrigSums(times, w, f0, df, m, 1)
	tt.s2, tt.c2 = t.fft.TrigSums(times, w, f0, df, m, 2)
	tt.ys, tt.yc = t.fft.TrigSums(times, wy, f0, df, m, 1)
	return tt
}

package spectral

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransform(t *testing.T, mutate func(*config.PeriodogramConfig)) *Transform {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg.Periodogram)
	}
	tr, err := NewTransform(cfg.Periodogram, cfg.Significance)
	require.NoError(t, err)
	return tr
}

// unevenSinusoid samples a·sin(2π(f·t+p)) plus gaussian noise at jittered times
func unevenSinusoid(t *testing.T, n int, span, f, a, p, noise float64) *timeseries.Series {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	times := make([]float64, n)
	data := make([]float64, n)
	for i := range n {
		times[i] = span * (float64(i) + 0.8*rng.Float64()) / float64(n)
		data[i] = a*math.Sin(2*math.Pi*(f*times[i]+p)) + noise*rng.NormFloat64()
	}
	s, err := timeseries.New(times, data, nil)
	require.NoError(t, err)
	return s
}

func TestGridPolicy(t *testing.T) {
	s := unevenSinusoid(t, 100, 10, 1, 1, 0, 0)
	span := s.Span()
	res := 1.5 / span
	step := res / 10

	grid, err := newTransform(t, nil).Grid(s)
	require.NoError(t, err)
	assert.InDelta(t, res, grid[0], 1e-12)
	assert.InDelta(t, step, grid[1]-grid[0], 1e-12)
	assert.LessOrEqual(t, grid[len(grid)-1], Nyquist(s)+1e-9)
	assert.Greater(t, grid[len(grid)-1]+step, Nyquist(s)-1e-9)

	zero := newTransform(t, func(c *config.PeriodogramConfig) { c.LowerBound = "zero" })
	grid, err = zero.Grid(s)
	require.NoError(t, err)
	assert.InDelta(t, step, grid[0], 1e-12, "zero lower bound starts one step above zero")

	explicit := newTransform(t, func(c *config.PeriodogramConfig) {
		c.MinFrequency = 0.5
		c.MaxFrequency = 2
	})
	grid, err = explicit.Grid(s)
	require.NoError(t, err)
	assert.Equal(t, 0.5, grid[0])
	assert.LessOrEqual(t, grid[len(grid)-1], 2.0)
}

func TestPeriodogramInvariants(t *testing.T) {
	s := unevenSinusoid(t, 400, 20, 2.2, 1.5, 0.3, 0.3)
	for _, method := range []string{MethodDirect, MethodFast, MethodAuto} {
		t.Run(method, func(t *testing.T) {
			tr := newTransform(t, func(c *config.PeriodogramConfig) { c.Method = method })
			pg, err := tr.Compute(s)
			require.NoError(t, err)

			freq, amp := pg.Frequencies(), pg.Amplitudes()
			require.Equal(t, len(freq), len(amp))
			require.GreaterOrEqual(t, len(freq), 2)
			for i := range freq {
				assert.Greater(t, freq[i], 0.0)
				assert.GreaterOrEqual(t, amp[i], 0.0)
				if i > 0 {
					assert.Greater(t, freq[i], freq[i-1])
				}
			}
		})
	}
}

func TestAmplitudeRecovery(t *testing.T) {
	s := unevenSinusoid(t, 500, 30, 1.3, 3, 0.6, 0.05)
	pg, err := newTransform(t, func(c *config.PeriodogramConfig) { c.Method = MethodDirect }).Compute(s)
	require.NoError(t, err)

	peak := pg.Highest()
	assert.InDelta(t, 1.3, peak.Frequency, ResolutionUnit(s))
	assert.InDelta(t, 3.0, peak.Amplitude, 0.15)
}

func TestFastMatchesDirect(t *testing.T) {
	s := unevenSinusoid(t, 600, 40, 0.9, 2, 0.1, 0.5)
	direct, err := newTransform(t, func(c *config.PeriodogramConfig) { c.Method = MethodDirect }).Compute(s)
	require.NoError(t, err)
	fast, err := newTransform(t, func(c *config.PeriodogramConfig) { c.Method = MethodFast }).Compute(s)
	require.NoError(t, err)

	require.Equal(t, direct.Frequencies(), fast.Frequencies())
	maxAmp := direct.Highest().Amplitude
	for i, a := range direct.Amplitudes() {
		assert.InDelta(t, a, fast.Amplitudes()[i], 0.02*maxAmp, "frequency %g", direct.Frequencies()[i])
	}
	step := direct.Frequencies()[1] - direct.Frequencies()[0]
	assert.InDelta(t, direct.Highest().Frequency, fast.Highest().Frequency, 2*step)
}

func TestRecurrenceMatchesExactSums(t *testing.T) {
	times := []float64{0, 0.37, 1.1, 2.95, 3.3, 4.8, 7.25, 9.9}
	w := make([]float64, len(times))
	wy := make([]float64, len(times))
	for i := range times {
		w[i] = 1.0 / float64(len(times))
		wy[i] = w[i] * math.Cos(float64(i))
	}
	grid := make([]float64, 300)
	for k := range grid {
		grid[k] = 0.05 + 0.01*float64(k)
	}

	exact := directSums(times, w, wy, grid)
	rotated := recurrenceSums(times, w, wy, 0.05, 0.01, len(grid))
	assert.InDeltaSlice(t, exact.c, rotated.c, 1e-9)
	assert.InDeltaSlice(t, exact.s2, rotated.s2, 1e-9)
	assert.InDeltaSlice(t, exact.ys, rotated.ys, 1e-9)
	for k := range grid {
		assert.InDelta(t, exact.amplitude(k), rotated.amplitude(k), 1e-9)
	}
}

func TestInvalidInputs(t *testing.T) {
	tr := newTransform(t, nil)
	_, err := tr.Compute(nil)
	assert.ErrorIs(t, err, ErrDegenerateSeries)

	s := unevenSinusoid(t, 50, 5, 1, 1, 0, 0)
	grids := map[string][]float64{
		"short":      {1},
		"decreasing": {1, 0.5, 2},
		"repeated":   {1, 1, 2},
		"negative":   {-1, 1, 2},
		"zero":       {0, 1, 2},
	}
	for name, grid := range grids {
		t.Run(name, func(t *testing.T) {
			_, err := tr.ComputeOnGrid(s, grid)
			assert.ErrorIs(t, err, ErrInvalidGrid)
		})
	}

	_, err = NewTransform(config.PeriodogramConfig{Method: "wavelet", PointsPerResolutionElement: 10}, config.SignificanceConfig{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewPeriodogram([]float64{1, 2}, []float64{1, -1}, config.SignificanceConfig{})
	assert.ErrorIs(t, err, ErrInvalidGrid)
}

// noiseWithPeak returns a flat noisy spectrum with one narrow peak at 5
func noiseWithPeak(t *testing.T) *Periodogram {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 5))
	freq := make([]float64, 1000)
	amp := make([]float64, 1000)
	for i := range freq {
		freq[i] = 0.01 * float64(i+1)
		amp[i] = 1 + 0.2*rng.Float64() + 10*math.Exp(-math.Pow((freq[i]-5)/0.02, 2))
	}
	pg, err := NewPeriodogram(freq, amp, config.SignificanceConfig{PolyOrder: 5, BoxRadius: 1})
	require.NoError(t, err)
	return pg
}

func TestBoxSignificanceSeparatesPeak(t *testing.T) {
	pg := noiseWithPeak(t)
	peakIdx := 499
	freq, amp := pg.Frequencies(), pg.Amplitudes()
	require.InDelta(t, 5.0, freq[peakIdx], 1e-9)

	peakSig, err := pg.SigBox(freq[peakIdx], amp[peakIdx])
	require.NoError(t, err)
	assert.Greater(t, peakSig, 5.0)

	for i := 150; i < 850; i += 7 {
		if math.Abs(freq[i]-5) < 0.1 {
			continue
		}
		sig, err := pg.SigBox(freq[i], amp[i])
		require.NoError(t, err)
		assert.Less(t, sig, peakSig, "frequency %g", freq[i])
	}

	all, err := pg.SigBoxAll([]float64{freq[peakIdx], freq[300]}, []float64{amp[peakIdx], amp[300]})
	require.NoError(t, err)
	assert.Equal(t, peakSig, all[0])
}

func TestBoxTooNarrow(t *testing.T) {
	pg := noiseWithPeak(t)
	_, err := pg.SigBoxRadius(5, 11, 0.02)
	assert.ErrorIs(t, err, ErrBoxTooNarrow)
}

func TestSelectPeak(t *testing.T) {
	pg := noiseWithPeak(t)

	peak, err := pg.SelectPeak(SelectHighest, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 499, peak.Index)
	assert.InDelta(t, 5.0, peak.Frequency, 1e-9)

	mask := make([]bool, pg.Len())
	_, err = pg.SelectPeak(SelectHighest, 0, mask)
	assert.ErrorIs(t, err, ErrNoPeak)

	mask[10], mask[20] = true, true
	peak, err = pg.SelectPeak(SelectHighest, 0, mask)
	require.NoError(t, err)
	assert.Contains(t, []int{10, 20}, peak.Index)

	_, err = pg.SelectPeak(SelectHighest, 0, []bool{true})
	assert.Error(t, err)

	_, err = pg.SelectPeak(SelectionMethod(42), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestParseMethod(t *testing.T) {
	for name, want := range map[string]SelectionMethod{
		"highest":    SelectHighest,
		"slf":        SelectRedNoise,
		"red-noise":  SelectRedNoise,
		"poly":       SelectPolynomial,
		"Polynomial": SelectPolynomial,
	} {
		got, err := ParseMethod(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	_, err := ParseMethod("box")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func redNoiseSpectrum(t *testing.T, spike int) *Periodogram {
	t.Helper()
	freq := make([]float64, 2000)
	amp := make([]float64, 2000)
	truth := RedNoiseFit{X0: 1, Alpha0: 4, Gamma: 1.5, Cw: 0.3}
	for i := range freq {
		freq[i] = 0.01 * float64(i+1)
		amp[i] = truth.Noise(freq[i])
	}
	if spike >= 0 {
		amp[spike] += 20
	}
	pg, err := NewPeriodogram(freq, amp, config.Default().Significance)
	require.NoError(t, err)
	return pg
}

func TestRedNoiseFit(t *testing.T) {
	pg := redNoiseSpectrum(t, -1)
	fit, err := pg.RedNoiseFit()
	require.NoError(t, err)

	assert.InDelta(t, 1.0, fit.X0, 1e-2)
	assert.InDelta(t, 4.0, fit.Alpha0, 1e-2)
	assert.InDelta(t, 1.5, fit.Gamma, 1e-2)
	assert.InDelta(t, 0.3, fit.Cw, 1e-2)
	assert.Len(t, fit.Variances, 4)
	assert.InDelta(t, common.Mean(pg.Amplitudes()), pg.MeanAmplitude(), 1e-12)

	again, err := pg.RedNoiseFit()
	require.NoError(t, err)
	assert.Same(t, fit, again, "fit is cached per periodogram")

	sig, err := pg.SigRedNoise(2, 2*fit.Noise(2))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sig, 1e-9)
}

func TestPolyFit(t *testing.T) {
	freq := make([]float64, 500)
	amp := make([]float64, 500)
	for i := range freq {
		freq[i] = 0.02 * float64(i+1)
		amp[i] = math.Pow(10, 0.5-0.8*math.Log10(freq[i]))
	}
	amp[100] = 0 // skipped in log space
	pg, err := NewPeriodogram(freq, amp, config.SignificanceConfig{PolyOrder: 3, BoxRadius: 1})
	require.NoError(t, err)

	fit, err := pg.PolyFit()
	require.NoError(t, err)
	require.Len(t, fit.Coefficients, 4)
	assert.InDelta(t, 0.5, fit.Coefficients[0], 1e-8)
	assert.InDelta(t, -0.8, fit.Coefficients[1], 1e-8)

	sig, err := pg.SigPoly(1, 3*math.Pow(10, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, sig, 1e-6)

	again, _ := pg.PolyFit()
	assert.Same(t, fit, again)

	tooFew, err := NewPeriodogram([]float64{1, 2}, []float64{1, 1}, config.SignificanceConfig{PolyOrder: 5, BoxRadius: 1})
	require.NoError(t, err)
	_, err = tooFew.SigPoly(1, 1)
	assert.ErrorIs(t, err, ErrNoiseFit)
}

func TestSignificanceSelection(t *testing.T) {
	pg := redNoiseSpectrum(t, 1200)

	peak, err := pg.SelectPeak(SelectRedNoise, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 1200, peak.Index)

	peak, err = pg.SelectPeak(SelectPolynomial, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 1200, peak.Index)

	_, err = pg.SelectPeak(SelectRedNoise, 1e6, nil)
	assert.ErrorIs(t, err, ErrNoPeak)
}

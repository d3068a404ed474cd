package prewhitening

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/RyanBlaney/sonido-whiten/algorithms/lsq"
	"github.com/RyanBlaney/sonido-whiten/algorithms/spectral"
	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/model"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type component struct{ f, a, p float64 }

var threeTerms = []component{
	{f: 1.25, a: 1.0, p: 0.25},
	{f: 3.15, a: 0.5, p: 0.7},
	{f: 5.4, a: 0.2, p: 0.9},
}

func synthetic(t *testing.T, seed uint64, n int, span, noise float64, comps ...component) *timeseries.Series {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	times := make([]float64, n)
	data := make([]float64, n)
	errs := make([]float64, n)
	for i := range n {
		times[i] = span * (float64(i) + 0.9*rng.Float64()) / float64(n)
		data[i] = 3 + noise*rng.NormFloat64()
		for _, c := range comps {
			data[i] += c.a * math.Sin(2*math.Pi*(c.f*times[i]+c.p))
		}
		errs[i] = noise
	}
	s, err := timeseries.New(times, data, errs)
	require.NoError(t, err)
	return s
}

// weightedScenario samples f=1.25/3.15/5.4 with amplitudes 10/5/2 at n
// points over [0, 100] with per-point uncertainties drawn from [0.01, 1.01)
func weightedScenario(t *testing.T, seed uint64, n int, noise float64) (*timeseries.Series, []component) {
	t.Helper()
	comps := []component{
		{f: 1.25, a: 10, p: 0.25},
		{f: 3.15, a: 5, p: 0.7},
		{f: 5.4, a: 2, p: 0.9},
	}
	rng := rand.New(rand.NewPCG(seed, 11))
	times := make([]float64, n)
	data := make([]float64, n)
	errs := make([]float64, n)
	for i := range n {
		times[i] = 100 * (float64(i) + 0.9*rng.Float64()) / float64(n)
		data[i] = noise * rng.NormFloat64()
		for _, c := range comps {
			data[i] += c.a * math.Sin(2*math.Pi*(c.f*times[i]+c.p))
		}
		errs[i] = 0.01 + rng.Float64()
	}
	s, err := timeseries.New(times, data, errs)
	require.NoError(t, err)
	return s, comps
}

// assertRecovered checks every injected term is matched by some record
func assertRecovered(t *testing.T, fs *model.Frequencies, truth []component, fTol, aTol float64) {
	t.Helper()
	for _, c := range truth {
		found := false
		for _, r := range fs.All() {
			if math.Abs(r.F-c.f) < fTol && math.Abs(math.Abs(r.A)-c.a) < aTol {
				found = true
				break
			}
		}
		assert.True(t, found, "no record matches f=%g a=%g", c.f, c.a)
	}
}

// recordingSink counts calls and optionally fails every one of them
type recordingSink struct {
	mu         sync.Mutex
	iterations int
	finals     int
	lastLen    int
	fail       bool
}

func (s *recordingSink) SaveIteration(history []*timeseries.Series, freqs *model.Frequencies, offset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	s.lastLen = len(history)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) SaveFinal(freqs *model.Frequencies) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals++
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestNewValidation(t *testing.T) {
	s := synthetic(t, 1, 50, 10, 0.05)

	_, err := New(nil, nil)
	assert.ErrorIs(t, err, timeseries.ErrInvalidSeries)

	cfg := config.Default()
	cfg.Optimization.Model = "square"
	_, err = New(s, cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	w, err := New(s, nil)
	require.NoError(t, err)
	assert.Equal(t, Running, w.State())
	assert.InDelta(t, 0, w.Original().Mean(), 1e-12, "mean is subtracted by default")

	cfg = config.Default()
	cfg.Input.SubtractMean = false
	w, err = New(s, cfg)
	require.NoError(t, err)
	assert.Same(t, s, w.Original())
}

func TestAutoRecoversThreeSinusoids(t *testing.T) {
	s := synthetic(t, 2024, 2000, 100, 0.05, threeTerms...)
	sink := &recordingSink{}

	w, err := New(s, nil, WithSink(sink))
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedBySelector, res.State)
	require.GreaterOrEqual(t, res.Frequencies.Len(), 3)
	assert.LessOrEqual(t, res.Frequencies.Len(), 6)
	assertRecovered(t, res.Frequencies, threeTerms, 0.01, 0.05)

	assert.Equal(t, res.Iterations, res.Frequencies.Len())
	assert.Len(t, res.History, res.Iterations+1)
	assert.Same(t, res.History[len(res.History)-1], res.Residual)
	assert.InDelta(t, 0, res.Offset, 0.05)
	assert.Less(t, res.Residual.Std(), 0.06)

	for _, r := range res.Frequencies.All() {
		assert.Positive(t, r.SigmaF)
		assert.Positive(t, r.SigmaA)
		assert.Positive(t, r.SigmaP)
	}
	for _, r := range res.Frequencies.All()[:3] {
		assert.Greater(t, r.SigRedNoise, 4.0, "f=%g", r.F)
		assert.Greater(t, r.SigPoly, 4.0, "f=%g", r.F)
		assert.Positive(t, r.SigBox, "f=%g", r.F)
	}

	assert.Equal(t, res.Iterations, sink.iterations)
	assert.Equal(t, 1, sink.finals)
	assert.Equal(t, len(res.History), sink.lastLen)

	_, err = w.Iterate(spectral.SelectHighest)
	assert.Error(t, err, "a finished run cannot iterate")
}

func TestAutoWeightedScenarioStopsAtSelector(t *testing.T) {
	s, truth := weightedScenario(t, 42, 10000, 0.01)

	w, err := New(s, nil)
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedBySelector, res.State)
	assert.Equal(t, 3, res.Frequencies.Len())
	assertRecovered(t, res.Frequencies, truth, 1e-3, 0.05)
}

func TestAutoNoiseFreeStopsAtAmplitudeFloor(t *testing.T) {
	s, truth := weightedScenario(t, 43, 10000, 0)
	cfg := config.Default()
	cfg.AutoPW.CutoffIteration = 12

	w, err := New(s, cfg)
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedBySelector, res.State)
	assert.Equal(t, 3, res.Frequencies.Len())
	assertRecovered(t, res.Frequencies, truth, 1e-4, 1e-4)
}

func TestAmplitudeFloorTerminates(t *testing.T) {
	s := synthetic(t, 9, 400, 20, 0.05, threeTerms[0])
	cfg := config.Default()
	cfg.AutoPW.AmplitudeFloor = 1e3

	w, err := New(s, cfg)
	require.NoError(t, err)
	_, err = w.Iterate(spectral.SelectHighest)
	assert.ErrorIs(t, err, spectral.ErrNoPeak)
	assert.Equal(t, TerminatedBySelector, w.State())
	assert.Equal(t, 0, w.Frequencies().Len())
}

func TestRestoreUndoesStep(t *testing.T) {
	s := synthetic(t, 14, 800, 40, 0.05, threeTerms[0], threeTerms[1])
	w, err := New(s, nil)
	require.NoError(t, err)
	_, err = w.IterateManual(1.2505, 0.9, 0.3)
	require.NoError(t, err)

	first := w.Frequencies().At(0)
	f, a, p := first.Params()
	saved := w.snapshot()

	first.Update(f+0.01, a*2, p+0.1)
	w.Frequencies().Add(model.NewFrequency(3.15, 0.5, 0.7, 0, 1, first.Family))
	w.optimizer.SetOffset(123)

	w.restore(saved)
	require.Equal(t, 1, w.Frequencies().Len())
	assert.Same(t, first, w.Frequencies().At(0))
	gotF, gotA, gotP := first.Params()
	assert.Equal(t, []float64{f, a, p}, []float64{gotF, gotA, gotP})
	assert.Equal(t, saved.offset, w.optimizer.Offset())
}

func TestAutoSingleResidualPolicy(t *testing.T) {
	s := synthetic(t, 99, 1500, 80, 0.05, threeTerms[:2]...)
	cfg := config.Default()
	cfg.AutoPW.ResidualPolicy = config.ResidualSingle

	w, err := New(s, cfg)
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedBySelector, res.State)
	assertRecovered(t, res.Frequencies, threeTerms[:2], 0.01, 0.05)
}

func TestAutoIterationCap(t *testing.T) {
	s := synthetic(t, 3, 1000, 50, 0.05, threeTerms...)
	cfg := config.Default()
	cfg.AutoPW.CutoffIteration = 2

	w, err := New(s, cfg)
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedByIterationCap, res.State)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, res.Frequencies.Len())
	assert.Len(t, res.History, 3)
	assertRecovered(t, res.Frequencies, threeTerms[:2], 0.01, 0.05)
}

func TestSinkFailuresAreIgnored(t *testing.T) {
	s := synthetic(t, 4, 800, 40, 0.05, threeTerms[0])
	sink := &recordingSink{fail: true}

	w, err := New(s, nil, WithSink(sink))
	require.NoError(t, err)
	res, err := w.Auto(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedBySelector, res.State)
	assert.Equal(t, res.Iterations, sink.iterations)
	assert.Equal(t, 1, sink.finals)
}

func TestIterateManual(t *testing.T) {
	s := synthetic(t, 5, 800, 40, 0.05, threeTerms[0])
	w, err := New(s, nil)
	require.NoError(t, err)

	rec, err := w.IterateManual(1.2505, 0.9, 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, rec.F, 1e-3)
	assert.InDelta(t, 1.0, rec.A, 0.05)
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, Running, w.State())
	assert.Equal(t, 1, w.Iterations())
	assert.Same(t, rec, w.Frequencies().Last())

	pg, err := w.Periodogram()
	require.NoError(t, err)
	again, err := w.Periodogram()
	require.NoError(t, err)
	assert.Same(t, pg, again, "periodogram of the same residual is reused")
	assert.Less(t, pg.Highest().Amplitude, 0.05)
}

func TestIterateStageError(t *testing.T) {
	s := synthetic(t, 6, 200, 20, 0.05, threeTerms[0])
	w, err := New(s, nil)
	require.NoError(t, err)

	_, err = w.IterateManual(math.NaN(), 1, 0.5)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageSingleFit, se.Stage)
	assert.Equal(t, 1, se.Iteration)
	assert.ErrorIs(t, err, lsq.ErrInvalidProblem)
	assert.Contains(t, se.Error(), "single frequency fit failed in iteration 1")

	assert.Equal(t, 0, w.Frequencies().Len())
	assert.Equal(t, 0, w.Iterations())
}

func TestIterateAllMaskedPeakTerminates(t *testing.T) {
	s := synthetic(t, 7, 400, 20, 0.05)
	cfg := config.Default()
	cfg.AutoPW.PeakSelectionCutoffSig = 1e9

	w, err := New(s, cfg)
	require.NoError(t, err)
	_, err = w.Iterate(spectral.SelectRedNoise)
	assert.ErrorIs(t, err, spectral.ErrNoPeak)
	assert.Equal(t, TerminatedBySelector, w.State())
}

func TestAutoCancelled(t *testing.T) {
	s := synthetic(t, 8, 200, 20, 0.05, threeTerms[0])
	w, err := New(s, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Auto(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Running, w.State())
	assert.Equal(t, 0, w.Iterations())
}

func TestRunBatch(t *testing.T) {
	series := []*timeseries.Series{
		synthetic(t, 10, 800, 40, 0.05, threeTerms[0]),
		synthetic(t, 11, 800, 40, 0.05, threeTerms[1]),
		synthetic(t, 12, 800, 40, 0.05, threeTerms[0], threeTerms[1]),
	}
	sinks := make([]*recordingSink, len(series))

	results, err := RunBatch(context.Background(), series, nil, 2, func(i int) []Option {
		sinks[i] = &recordingSink{}
		return []Option{WithSink(sinks[i])}
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assertRecovered(t, results[0].Frequencies, threeTerms[:1], 0.01, 0.05)
	assertRecovered(t, results[1].Frequencies, threeTerms[1:2], 0.01, 0.05)
	assertRecovered(t, results[2].Frequencies, threeTerms[:2], 0.01, 0.05)
	for i, r := range results {
		assert.Equal(t, r.Iterations, sinks[i].iterations)
		assert.Equal(t, 1, sinks[i].finals)
	}
	assert.NotSame(t, results[0].Frequencies, results[1].Frequencies)
}

func TestRunBatchFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Optimization.Solver = "annealing"
	series := []*timeseries.Series{synthetic(t, 13, 100, 10, 0.05)}

	_, err := RunBatch(context.Background(), series, cfg, 0, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "series 0")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "terminated by selector", TerminatedBySelector.String())
	assert.Equal(t, "terminated by iteration cap", TerminatedByIterationCap.String())
}

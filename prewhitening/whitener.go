package prewhitening

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RyanBlaney/sonido-whiten/algorithms/fitting"
	"github.com/RyanBlaney/sonido-whiten/algorithms/spectral"
	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/model"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
)

// initialPhase is the phase guess of every single-frequency fit
const initialPhase = 0.5

// State is the position of a run in its lifecycle
type State int

const (
	Running State = iota
	TerminatedBySelector
	TerminatedByIterationCap
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case TerminatedBySelector:
		return "terminated by selector"
	case TerminatedByIterationCap:
		return "terminated by iteration cap"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Whitener runs iterative pre-whitening on one series. It owns the residual
// history and the frequency collection of the run and is not safe for
// concurrent use; independent runs need independent whiteners.
type Whitener struct {
	cfg *config.Config

	history   []*timeseries.Series // history[0] is the original series
	pg        *spectral.Periodogram
	pgSource  *timeseries.Series
	freqs     *model.Frequencies
	offset    float64
	state     State
	iteration int

	transform *spectral.Transform
	optimizer *fitting.Optimizer
	method    spectral.SelectionMethod

	sink   Sink
	logger logging.Logger
}

// Option configures a Whitener
type Option func(*Whitener)

// WithLogger sets the logger shared by the run and its components
func WithLogger(logger logging.Logger) Option {
	return func(w *Whitener) {
		w.logger = logging.OrNoOp(logger)
	}
}

// WithSink sets the receiver of per-iteration and final results
func WithSink(sink Sink) Option {
	return func(w *Whitener) {
		if sink != nil {
			w.sink = sink
		}
	}
}

// New validates cfg and prepares a run on series. A nil cfg uses the defaults.
func New(series *timeseries.Series, cfg *config.Config, opts ...Option) (*Whitener, error) {
	if series == nil {
		return nil, fmt.Errorf("%w: nil series", timeseries.ErrInvalidSeries)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Whitener{
		cfg:    cfg,
		freqs:  model.NewFrequencies(),
		sink:   NopSink{},
		logger: &logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}

	method, err := spectral.ParseMethod(cfg.AutoPW.PeakSelectionMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	w.method = method

	w.transform, err = spectral.NewTransform(cfg.Periodogram, cfg.Significance,
		spectral.WithTransformLogger(w.logger))
	if err != nil {
		return nil, err
	}
	w.optimizer, err = fitting.NewOptimizer(cfg.OptimizationSettings(),
		fitting.WithLogger(w.logger))
	if err != nil {
		return nil, err
	}

	if cfg.Input.SubtractMean {
		series = series.SubtractMean()
	}
	w.history = []*timeseries.Series{series}
	return w, nil
}

// State returns the lifecycle state of the run
func (w *Whitener) State() State { return w.state }

// Iterations returns the number of completed iterations
func (w *Whitener) Iterations() int { return w.iteration }

// Original returns the series every joint fit is made against
func (w *Whitener) Original() *timeseries.Series { return w.history[0] }

// Residual returns the most recent residual series
func (w *Whitener) Residual() *timeseries.Series { return w.history[len(w.history)-1] }

// History returns the original series followed by every residual
func (w *Whitener) History() []*timeseries.Series {
	return append([]*timeseries.Series(nil), w.history...)
}

// Frequencies returns the collection of extracted records
func (w *Whitener) Frequencies() *model.Frequencies { return w.freqs }

// Offset returns the floating offset of the last joint fit
func (w *Whitener) Offset() float64 { return w.offset }

// Periodogram returns the periodogram of the most recent residual, computing
// it on first use
func (w *Whitener) Periodogram() (*spectral.Periodogram, error) {
	resid := w.Residual()
	if w.pg != nil && w.pgSource == resid {
		return w.pg, nil
	}
	pg, err := w.transform.Compute(resid)
	if err != nil {
		return nil, err
	}
	w.pg, w.pgSource = pg, resid
	return pg, nil
}

// Iterate runs one pre-whitening step, picking the candidate peak with
// method. It returns the new record, or spectral.ErrNoPeak once no peak
// qualifies, which moves the run to TerminatedBySelector. Any other failure
// is a *StageError and leaves the collection and offset as they were.
func (w *Whitener) Iterate(method spectral.SelectionMethod) (*model.Frequency, error) {
	if w.state != Running {
		return nil, fmt.Errorf("iterate: run already %s", w.state)
	}
	n := w.iteration + 1

	pg, err := w.Periodogram()
	if err != nil {
		return nil, &StageError{Stage: StagePeriodogram, Iteration: n, Err: err}
	}
	if floor := w.cfg.AutoPW.AmplitudeFloor * w.Original().Std(); pg.Highest().Amplitude < floor {
		w.state = TerminatedBySelector
		w.logger.Info("Residual at roundoff level, stopping", logging.Fields{
			"iteration": n,
			"highest":   pg.Highest().Amplitude,
			"floor":     floor,
		})
		return nil, fmt.Errorf("%w: highest amplitude %g below floor %g",
			spectral.ErrNoPeak, pg.Highest().Amplitude, floor)
	}
	peak, err := pg.SelectPeak(method, w.cfg.AutoPW.PeakSelectionCutoffSig, nil)
	if errors.Is(err, spectral.ErrNoPeak) {
		w.state = TerminatedBySelector
		w.logger.Info("No significant peak left, stopping", logging.Fields{
			"iteration": n,
			"method":    method.String(),
		})
		return nil, err
	}
	if err != nil {
		return nil, &StageError{Stage: StagePeakSelection, Iteration: n, Err: err}
	}
	w.logger.Debug("Selected candidate peak", logging.Fields{
		"iteration": n,
		"method":    method.String(),
		"frequency": peak.Frequency,
		"amplitude": peak.Amplitude,
	})

	return w.step(n, peak.Frequency, peak.Amplitude, initialPhase)
}

// IterateManual runs one step from a caller-supplied candidate, skipping peak
// selection. The run's state is not changed.
func (w *Whitener) IterateManual(f, a, p float64) (*model.Frequency, error) {
	if w.state != Running {
		return nil, fmt.Errorf("iterate: run already %s", w.state)
	}
	return w.step(w.iteration+1, f, a, p)
}

func (w *Whitener) step(n int, f0, a0, p0 float64) (*model.Frequency, error) {
	logger := w.logger.WithFields(logging.Fields{"iteration": n})
	resid := w.Residual()

	single, err := w.optimizer.SingleFrequency(resid, f0, a0, p0)
	if err != nil {
		return nil, &StageError{Stage: StageSingleFit, Iteration: n, Err: err}
	}

	saved := w.snapshot()
	rec := model.NewFrequency(single.Frequency, single.Amplitude, single.Phase,
		w.optimizer.Epoch(), w.freqs.Len(), w.optimizer.Family())
	w.freqs.Add(rec)

	multi, err := w.optimizer.MultiFrequency(w.Original(), w.freqs)
	if err != nil {
		w.restore(saved)
		return nil, &StageError{Stage: StageMultiFit, Iteration: n, Err: err}
	}

	var next *timeseries.Series
	switch strings.ToLower(w.cfg.AutoPW.ResidualPolicy) {
	case config.ResidualSingle:
		next, err = resid.Subtract(single.Model)
	default:
		next, err = w.Original().Subtract(multi.Model)
	}
	if err != nil {
		w.restore(saved)
		return nil, &StageError{Stage: StageResidual, Iteration: n, Err: err}
	}

	w.history = append(w.history, next)
	w.offset = multi.Offset
	w.iteration = n

	logger.Info("Extracted frequency", logging.Fields{
		"frequency": rec.F,
		"amplitude": rec.A,
		"phase":     rec.P,
		"count":     w.freqs.Len(),
		"offset":    w.offset,
		"attempts":  single.Attempts,
	})

	if err := w.sink.SaveIteration(w.History(), w.freqs, w.offset); err != nil {
		logger.Error(err, "Failed to save iteration output")
	}
	return rec, nil
}

// snapshot holds the fitted values of every record and the optimizer offset
// from before a step
type snapshot struct {
	params [][3]float64
	offset float64
}

func (w *Whitener) snapshot() snapshot {
	s := snapshot{params: make([][3]float64, w.freqs.Len()), offset: w.optimizer.Offset()}
	for i, r := range w.freqs.All() {
		s.params[i] = [3]float64{r.F, r.A, r.P}
	}
	return s
}

// restore drops records added after s was taken and resets the joint fit
// values, so a failed step leaves the run as it was
func (w *Whitener) restore(s snapshot) {
	for w.freqs.Len() > len(s.params) {
		_ = w.freqs.Remove(w.freqs.Len() - 1)
	}
	for i, r := range w.freqs.All() {
		r.Update(s.params[i][0], s.params[i][1], s.params[i][2])
	}
	w.optimizer.SetOffset(s.offset)
}

// Auto iterates until the selector finds no peak or the iteration cap is
// reached, then post-processes. The first highest_override iterations pick
// the highest peak; later ones use the configured significance method.
// Cancellation of ctx is checked between iterations.
func (w *Whitener) Auto(ctx context.Context) (*Result, error) {
	cfg := w.cfg.AutoPW
	w.logger.Info("Starting pre-whitening", logging.Fields{
		"samples":   w.Original().Len(),
		"method":    w.method.String(),
		"cutoff":    cfg.PeakSelectionCutoffSig,
		"max_iter":  cfg.CutoffIteration,
		"residuals": cfg.ResidualPolicy,
	})

	for w.state == Running {
		if w.iteration >= cfg.CutoffIteration {
			w.state = TerminatedByIterationCap
			w.logger.Info("Iteration cap reached", logging.Fields{"iterations": w.iteration})
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		method := w.method
		if w.iteration < cfg.HighestOverride {
			method = spectral.SelectHighest
		}
		if _, err := w.Iterate(method); err != nil && !errors.Is(err, spectral.ErrNoPeak) {
			return nil, err
		}
	}

	if err := w.PostProcess(); err != nil {
		return nil, err
	}
	return w.Result(), nil
}

// PostProcess computes the significances of every record against the
// periodogram of the final residual, then their uncertainties, and hands the
// collection to the sink.
func (w *Whitener) PostProcess() error {
	if w.freqs.Len() > 0 {
		pg, err := w.Periodogram()
		if err != nil {
			return &StageError{Stage: StagePeriodogram, Iteration: w.iteration, Err: err}
		}
		if err := w.freqs.ComputeSignificances(pg); err != nil {
			return &StageError{Stage: StageSignificance, Iteration: w.iteration, Err: err}
		}
		if err := w.freqs.ComputeUncertainties(w.Residual()); err != nil {
			return &StageError{Stage: StageUncertainty, Iteration: w.iteration, Err: err}
		}
	}

	w.logger.Info("Pre-whitening finished", logging.Fields{
		"state":       w.state.String(),
		"iterations":  w.iteration,
		"frequencies": w.freqs.Len(),
	})
	if err := w.sink.SaveFinal(w.freqs); err != nil {
		w.logger.Error(err, "Failed to save final output")
	}
	return nil
}

// Result is a snapshot of a run
type Result struct {
	Frequencies *model.Frequencies
	Residual    *timeseries.Series
	Offset      float64
	State       State
	Iterations  int
	History     []*timeseries.Series
}

// Result returns the current state of the run
func (w *Whitener) Result() *Result {
	return &Result{
		Frequencies: w.freqs,
		Residual:    w.Residual(),
		Offset:      w.offset,
		State:       w.state,
		Iterations:  w.iteration,
		History:     w.History(),
	}
}

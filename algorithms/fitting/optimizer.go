package fitting

import (
	"fmt"

	"github.com/RyanBlaney/sonido-whiten/algorithms/lsq"
	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/model"
)

// Phase stability check constants, in cycles
const (
	phaseMinShift  = 0.1
	phaseRetryStep = 0.17
)

// Optimizer fits sinusoid models to time series by weighted least squares.
// It keeps the floating offset of the last multi-frequency fit as the
// starting guess for the next one.
type Optimizer struct {
	cfg    config.OptimizationConfig
	family model.Family
	solver lsq.Solver
	offset float64
	logger logging.Logger
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger for retries and boundary warnings
func WithLogger(logger logging.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logging.OrNoOp(logger)
	}
}

// WithSolver replaces the solver selected by the configuration
func WithSolver(solver lsq.Solver) Option {
	return func(o *Optimizer) {
		if solver != nil {
			o.solver = solver
		}
	}
}

// NewOptimizer validates the model family and solver name
func NewOptimizer(cfg config.OptimizationConfig, opts ...Option) (*Optimizer, error) {
	family, err := model.ParseFamily(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	solver, err := lsq.NewSolver(cfg.Solver, lsq.Settings{
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	o := &Optimizer{
		cfg:    cfg,
		family: family,
		solver: solver,
		logger: &logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Family returns the sinusoid family used for new records
func (o *Optimizer) Family() model.Family { return o.family }

// Epoch returns the phase reference time
func (o *Optimizer) Epoch() float64 { return o.cfg.T0 }

// Offset returns the floating offset of the last multi-frequency fit
func (o *Optimizer) Offset() float64 { return o.offset }

// SetOffset overrides the starting offset of the next multi-frequency fit
func (o *Optimizer) SetOffset(v float64) { o.offset = v }

func (o *Optimizer) frequencyParam(name string, f float64) lsq.Param {
	b := o.cfg.Bounds
	return lsq.Bounded(name, f, f*b.FreqLowerCoeff, f*b.FreqUpperCoeff)
}

func (o *Optimizer) amplitudeParam(name string, a float64) lsq.Param {
	b := o.cfg.Bounds
	return lsq.Bounded(name, a, a*b.AmpLowerCoeff, a*b.AmpUpperCoeff)
}

func (o *Optimizer) phaseParam(name string, p float64) lsq.Param {
	b := o.cfg.Bounds
	return lsq.Bounded(name, p, b.PhaseLower, b.PhaseUpper)
}

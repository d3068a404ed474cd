package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidConfig marks configuration values that fail validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete pre-whitening configuration. It is built once by the
// caller (Default, Load) and handed to every component constructor.
type Config struct {
	Input        InputConfig        `mapstructure:"input"`
	Periodogram  PeriodogramConfig  `mapstructure:"periodogram"`
	Significance SignificanceConfig `mapstructure:"significance"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	AutoPW       AutoPWConfig       `mapstructure:"autopw"`
	Output       OutputConfig       `mapstructure:"output"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type InputConfig struct {
	SubtractMean bool    `mapstructure:"subtract_mean"`
	T0           float64 `mapstructure:"t0"` // phase reference epoch
}

// PeriodogramConfig controls grid construction and the spectral estimator
type PeriodogramConfig struct {
	PointsPerResolutionElement int     `mapstructure:"points_per_resolution_element"`
	LowerBound                 string  `mapstructure:"lower_bound"` // "zero", "resolution"
	UpperBound                 string  `mapstructure:"upper_bound"` // "nyquist"
	MinFrequency               float64 `mapstructure:"min_frequency"` // > 0 overrides LowerBound
	MaxFrequency               float64 `mapstructure:"max_frequency"` // > 0 overrides UpperBound
	Method                     string  `mapstructure:"method"`        // "auto", "fast", "direct"
	UseWeights                 bool    `mapstructure:"use_weights"`
	FastOversampling           int     `mapstructure:"fast_oversampling"`
	FastOrder                  int     `mapstructure:"fast_order"`
}

type SignificanceConfig struct {
	PolyOrder int     `mapstructure:"poly_order"`
	BoxRadius float64 `mapstructure:"box_radius"` // frequency units
}

// OptimizationConfig configures the sinusoid fits
type OptimizationConfig struct {
	Model           string       `mapstructure:"model"`  // "sin", "cos"
	Solver          string       `mapstructure:"solver"` // "leastsq", "bfgs", "nelder-mead"
	PhaseCheck      bool         `mapstructure:"phase_check"`
	MaxPhaseRetries int          `mapstructure:"max_phase_retries"`
	IncludeOffset   bool         `mapstructure:"include_offset"`
	BoundaryWarning float64      `mapstructure:"boundary_warning"` // 0 disables
	MaxIterations   int          `mapstructure:"max_iterations"`   // 0 picks a size-based default
	Tolerance       float64      `mapstructure:"tolerance"`
	Bounds          BoundsConfig `mapstructure:"bounds"`
	T0              float64      `mapstructure:"-"` // copied from InputConfig.T0
}

type BoundsConfig struct {
	FreqLowerCoeff float64 `mapstructure:"freq_lower_coeff"`
	FreqUpperCoeff float64 `mapstructure:"freq_upper_coeff"`
	AmpLowerCoeff  float64 `mapstructure:"amp_lower_coeff"`
	AmpUpperCoeff  float64 `mapstructure:"amp_upper_coeff"`
	PhaseLower     float64 `mapstructure:"phase_lower"`
	PhaseUpper     float64 `mapstructure:"phase_upper"`
}

// AutoPWConfig drives the automatic pre-whitening loop
type AutoPWConfig struct {
	PeakSelectionMethod    string  `mapstructure:"peak_selection_method"` // "highest", "slf", "poly"
	PeakSelectionCutoffSig float64 `mapstructure:"peak_selection_cutoff_sig"`
	HighestOverride        int     `mapstructure:"highest_override"`
	CutoffIteration        int     `mapstructure:"cutoff_iteration"`
	ResidualPolicy         string  `mapstructure:"residual_policy"` // "sf", "mf"
	// AmplitudeFloor stops the loop once the highest residual peak falls
	// below this fraction of the original series' standard deviation. 0 disables.
	AmplitudeFloor float64 `mapstructure:"amplitude_floor"`
}

type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	Precision  int    `mapstructure:"precision"` // digits shown in value(err) notation
	PrintTable bool   `mapstructure:"print_table"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"` // "auto", "always", "never"
}

// Residual generation policies
const (
	ResidualSingle = "sf"
	ResidualMulti  = "mf"
)

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Input: InputConfig{
			SubtractMean: true,
			T0:           0,
		},
		Periodogram: PeriodogramConfig{
			PointsPerResolutionElement: 10,
			LowerBound:                 "resolution",
			UpperBound:                 "nyquist",
			Method:                     "auto",
			UseWeights:                 true,
			FastOversampling:           5,
			FastOrder:                  4,
		},
		Significance: SignificanceConfig{
			PolyOrder: 5,
			BoxRadius: 1.0,
		},
		Optimization: OptimizationConfig{
			Model:           "sin",
			Solver:          "leastsq",
			PhaseCheck:      true,
			MaxPhaseRetries: 5,
			IncludeOffset:   true,
			BoundaryWarning: 0.05,
			MaxIterations:   0,
			Tolerance:       1.5e-8,
			Bounds: BoundsConfig{
				FreqLowerCoeff: 0.8,
				FreqUpperCoeff: 1.2,
				AmpLowerCoeff:  0.5,
				AmpUpperCoeff:  1.5,
				PhaseLower:     0,
				PhaseUpper:     1,
			},
		},
		AutoPW: AutoPWConfig{
			PeakSelectionMethod:    "slf",
			PeakSelectionCutoffSig: 4.0,
			HighestOverride:        1,
			CutoffIteration:        100,
			ResidualPolicy:         ResidualMulti,
			AmplitudeFloor:         1e-6,
		},
		Output: OutputConfig{
			Dir:        "pw_out",
			Precision:  2,
			PrintTable: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			Color: "auto",
		},
	}
}

// OptimizationSettings returns the optimization section with the input epoch applied
func (c *Config) OptimizationSettings() OptimizationConfig {
	opt := c.Optimization
	opt.T0 = c.Input.T0
	return opt
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func oneOf(value string, allowed ...string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks enum values and numeric ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	p := c.Periodogram
	if p.PointsPerResolutionElement < 1 {
		errs = append(errs, invalid("periodogram.points_per_resolution_element must be >= 1 (got %d)", p.PointsPerResolutionElement))
	}
	if !oneOf(p.LowerBound, "zero", "resolution") {
		errs = append(errs, invalid("periodogram.lower_bound must be zero or resolution (got %q)", p.LowerBound))
	}
	if !oneOf(p.UpperBound, "nyquist") {
		errs = append(errs, invalid("periodogram.upper_bound must be nyquist (got %q)", p.UpperBound))
	}
	if p.MinFrequency < 0 || p.MaxFrequency < 0 || !finite(p.MinFrequency, p.MaxFrequency) {
		errs = append(errs, invalid("periodogram frequency overrides must be finite and non-negative"))
	}
	if p.MaxFrequency > 0 && p.MinFrequency >= p.MaxFrequency {
		errs = append(errs, invalid("periodogram.min_frequency %g must be below max_frequency %g", p.MinFrequency, p.MaxFrequency))
	}
	if !oneOf(p.Method, "auto", "fast", "direct") {
		errs = append(errs, invalid("periodogram.method must be auto, fast or direct (got %q)", p.Method))
	}
	if p.FastOversampling < 1 || p.FastOrder < 2 {
		errs = append(errs, invalid("periodogram.fast_oversampling must be >= 1 and fast_order >= 2"))
	}

	s := c.Significance
	if s.PolyOrder < 0 {
		errs = append(errs, invalid("significance.poly_order must be >= 0 (got %d)", s.PolyOrder))
	}
	if !(s.BoxRadius > 0) || !finite(s.BoxRadius) {
		errs = append(errs, invalid("significance.box_radius must be positive (got %g)", s.BoxRadius))
	}

	o := c.Optimization
	if !oneOf(o.Model, "sin", "cos") {
		errs = append(errs, invalid("optimization.model must be sin or cos (got %q)", o.Model))
	}
	if !oneOf(o.Solver, "leastsq", "bfgs", "nelder-mead") {
		errs = append(errs, invalid("optimization.solver must be leastsq, bfgs or nelder-mead (got %q)", o.Solver))
	}
	if o.MaxPhaseRetries < 0 || o.MaxIterations < 0 {
		errs = append(errs, invalid("optimization retry and iteration limits must be >= 0"))
	}
	if o.BoundaryWarning < 0 || !(o.Tolerance > 0) {
		errs = append(errs, invalid("optimization.boundary_warning must be >= 0 and tolerance > 0"))
	}
	b := o.Bounds
	if !finite(b.FreqLowerCoeff, b.FreqUpperCoeff, b.AmpLowerCoeff, b.AmpUpperCoeff, b.PhaseLower, b.PhaseUpper) {
		errs = append(errs, invalid("optimization.bounds must be finite"))
	}
	if b.FreqLowerCoeff > b.FreqUpperCoeff || b.AmpLowerCoeff > b.AmpUpperCoeff {
		errs = append(errs, invalid("optimization.bounds lower coefficients must not exceed upper coefficients"))
	}
	if b.PhaseLower >= b.PhaseUpper {
		errs = append(errs, invalid("optimization.bounds.phase_lower %g must be below phase_upper %g", b.PhaseLower, b.PhaseUpper))
	}

	a := c.AutoPW
	if !oneOf(a.PeakSelectionMethod, "highest", "slf", "red-noise", "poly", "polynomial") {
		errs = append(errs, invalid("autopw.peak_selection_method must be highest, slf or poly (got %q)", a.PeakSelectionMethod))
	}
	if a.CutoffIteration < 1 || a.HighestOverride < 0 {
		errs = append(errs, invalid("autopw.cutoff_iteration must be >= 1 and highest_override >= 0"))
	}
	if !finite(a.AmplitudeFloor) || a.AmplitudeFloor < 0 {
		errs = append(errs, invalid("autopw.amplitude_floor must be >= 0 (got %g)", a.AmplitudeFloor))
	}
	if !oneOf(a.ResidualPolicy, ResidualSingle, ResidualMulti) {
		errs = append(errs, invalid("autopw.residual_policy must be sf or mf (got %q)", a.ResidualPolicy))
	}

	if c.Output.Precision < 1 {
		errs = append(errs, invalid("output.precision must be >= 1 (got %d)", c.Output.Precision))
	}
	if !oneOf(c.Logging.Color, "auto", "always", "never", "yes", "no", "true", "false") {
		errs = append(errs, invalid("logging.color must be auto, always or never (got %q)", c.Logging.Color))
	}

	return errors.Join(errs...)
}

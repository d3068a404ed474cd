package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration
// keys, e.g. PREWHITEN_AUTOPW_CUTOFF_ITERATION.
const EnvPrefix = "PREWHITEN"

// defaults flattens Default() into viper keys
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"input.subtract_mean": d.Input.SubtractMean,
		"input.t0":            d.Input.T0,

		"periodogram.points_per_resolution_element": d.Periodogram.PointsPerResolutionElement,
		"periodogram.lower_bound":                   d.Periodogram.LowerBound,
		"periodogram.upper_bound":                   d.Periodogram.UpperBound,
		"periodogram.min_frequency":                 d.Periodogram.MinFrequency,
		"periodogram.max_frequency":                 d.Periodogram.MaxFrequency,
		"periodogram.method":                        d.Periodogram.Method,
		"periodogram.use_weights":                   d.Periodogram.UseWeights,
		"periodogram.fast_oversampling":             d.Periodogram.FastOversampling,
		"periodogram.fast_order":                    d.Periodogram.FastOrder,

		"significance.poly_order": d.Significance.PolyOrder,
		"significance.box_radius": d.Significance.BoxRadius,

		"optimization.model":                   d.Optimization.Model,
		"optimization.solver":                  d.Optimization.Solver,
		"optimization.phase_check":             d.Optimization.PhaseCheck,
		"optimization.max_phase_retries":       d.Optimization.MaxPhaseRetries,
		"optimization.include_offset":          d.Optimization.IncludeOffset,
		"optimization.boundary_warning":        d.Optimization.BoundaryWarning,
		"optimization.max_iterations":          d.Optimization.MaxIterations,
		"optimization.tolerance":               d.Optimization.Tolerance,
		"optimization.bounds.freq_lower_coeff": d.Optimization.Bounds.FreqLowerCoeff,
		"optimization.bounds.freq_upper_coeff": d.Optimization.Bounds.FreqUpperCoeff,
		"optimization.bounds.amp_lower_coeff":  d.Optimization.Bounds.AmpLowerCoeff,
		"optimization.bounds.amp_upper_coeff":  d.Optimization.Bounds.AmpUpperCoeff,
		"optimization.bounds.phase_lower":      d.Optimization.Bounds.PhaseLower,
		"optimization.bounds.phase_upper":      d.Optimization.Bounds.PhaseUpper,

		"autopw.peak_selection_method":     d.AutoPW.PeakSelectionMethod,
		"autopw.peak_selection_cutoff_sig": d.AutoPW.PeakSelectionCutoffSig,
		"autopw.highest_override":          d.AutoPW.HighestOverride,
		"autopw.cutoff_iteration":          d.AutoPW.CutoffIteration,
		"autopw.residual_policy":           d.AutoPW.ResidualPolicy,
		"autopw.amplitude_floor":           d.AutoPW.AmplitudeFloor,

		"output.dir":         d.Output.Dir,
		"output.precision":   d.Output.Precision,
		"output.print_table": d.Output.PrintTable,

		"logging.level": d.Logging.Level,
		"logging.color": d.Logging.Color,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds a configuration from the defaults, then merges each file in
// order (later files win, nested tables are merged key by key), then
// environment variables. The format is taken from the file extension
// (toml, yaml, json).
func Load(files ...string) (*Config, error) {
	return LoadWithOverrides(nil, files...)
}

// LoadWithOverrides is Load followed by merging a nested map of runtime
// overrides, e.g. {"autopw": {"cutoff_iteration": 5}}.
func LoadWithOverrides(overrides map[string]any, files ...string) (*Config, error) {
	v := newViper()

	for _, file := range files {
		if file == "" {
			continue
		}
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	if len(overrides) > 0 {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("error merging config overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path so it can be edited
// and passed back to Load.
func WriteDefault(path string) error {
	v := viper.New()
	for key, value := range defaults() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("could not write default config to %s: %w", path, err)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/output"
	"github.com/RyanBlaney/sonido-whiten/prewhitening"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configs   []string
	outputDir string
	logLevel  string
	method    string
	maxIter   int
	workers   int
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "prewhiten",
		Short:         "Iterative pre-whitening of unevenly sampled time series",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(runCommand(), defaultsCommand())
	return root
}

func runCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [series.txt...]",
		Short: "Extract frequencies from one or more time series",
		Long: `Reads whitespace separated time, value[, uncertainty] columns from each
file, runs automatic pre-whitening and writes residuals and frequency tables
to the output directory (one subdirectory per file when several are given).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), flags, args)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.configs, "config", "c", nil, "Configuration file, may be repeated (later files override earlier ones)")
	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "", "Output directory (overrides output.dir)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVarP(&flags.method, "method", "m", "", "Peak selection method: highest, slf, poly")
	cmd.Flags().IntVar(&flags.maxIter, "max-iterations", 0, "Iteration cap (overrides autopw.cutoff_iteration)")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "Series processed in parallel (0 = all)")
	return cmd
}

func defaultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults [config.toml]",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", args[0])
			return nil
		},
	}
}

// overrides turns the command line flags into a nested configuration map
func (f *runFlags) overrides() map[string]any {
	out := map[string]any{}
	section := func(name string) map[string]any {
		if m, ok := out[name].(map[string]any); ok {
			return m
		}
		m := map[string]any{}
		out[name] = m
		return m
	}
	if f.outputDir != "" {
		section("output")["dir"] = f.outputDir
	}
	if f.logLevel != "" {
		section("logging")["level"] = f.logLevel
	}
	if f.method != "" {
		section("autopw")["peak_selection_method"] = f.method
	}
	if f.maxIter > 0 {
		section("autopw")["cutoff_iteration"] = f.maxIter
	}
	return out
}

func newLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewDefaultLogger()
	logger.SetColors(cfg.Color)
	logger.SetLevel(level)
	return logger, nil
}

func run(ctx context.Context, out io.Writer, flags *runFlags, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg, err := config.LoadWithOverrides(flags.overrides(), flags.configs...)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	series := make([]*timeseries.Series, len(paths))
	for i, p := range paths {
		if series[i], err = timeseries.ReadFile(p); err != nil {
			return err
		}
		logger.Info("Loaded time series", logging.Fields{
			"file":    p,
			"samples": series[i].Len(),
			"span":    series[i].Span(),
		})
	}

	// concurrent runs render their tables into buffers that are printed in
	// input order once the batch is done
	managers := make([]*output.Manager, len(paths))
	tables := make([]bytes.Buffer, len(paths))
	for i, p := range paths {
		dir, table := cfg.Output.Dir, out
		if len(paths) > 1 {
			dir = filepath.Join(dir, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
			table = &tables[i]
		}
		runLogger := logger.WithFields(logging.Fields{"file": filepath.Base(p)})
		if managers[i], err = output.NewManager(cfg.Output, output.WithDir(dir),
			output.WithLogger(runLogger), output.WithTableWriter(table)); err != nil {
			return err
		}
	}

	results, err := prewhitening.RunBatch(ctx, series, cfg, flags.workers, func(i int) []prewhitening.Option {
		return []prewhitening.Option{
			prewhitening.WithLogger(logger.WithFields(logging.Fields{"file": filepath.Base(paths[i])})),
			prewhitening.WithSink(managers[i]),
		}
	})
	if err != nil {
		return fmt.Errorf("pre-whitening failed: %w", err)
	}

	for i, res := range results {
		if len(paths) > 1 && tables[i].Len() > 0 {
			fmt.Fprintf(out, "%s\n", paths[i])
			if _, err := tables[i].WriteTo(out); err != nil {
				return err
			}
		}
		logger.Info("Run complete", logging.Fields{
			"file":        paths[i],
			"frequencies": res.Frequencies.Len(),
			"iterations":  res.Iterations,
			"state":       res.State.String(),
			"output":      managers[i].Dir(),
		})
	}
	return nil
}

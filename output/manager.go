package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/model"
	"github.com/RyanBlaney/sonido-whiten/prewhitening"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Layout of the output directory
const (
	ResidualsDir   = "residuals"
	IterationsDir  = "iterations"
	FinalCSV       = "frequencies.csv"
	FinalLaTeX     = "frequencies.tex"
	residualFormat = "residual_%03d.txt"
	iterFormat     = "frequencies_%03d.csv"
)

var _ prewhitening.Sink = (*Manager)(nil)

// Manager writes the results of a pre-whitening run below one directory.
// A Manager serves a single run.
type Manager struct {
	cfg    config.OutputConfig
	dir    string
	table  io.Writer
	logger logging.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger for written files
func WithLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logging.OrNoOp(logger)
	}
}

// WithTableWriter sets where the final console table goes (default stdout)
func WithTableWriter(w io.Writer) ManagerOption {
	return func(m *Manager) {
		if w != nil {
			m.table = w
		}
	}
}

// WithDir overrides the configured output directory
func WithDir(dir string) ManagerOption {
	return func(m *Manager) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// NewManager creates the output directory tree
func NewManager(cfg config.OutputConfig, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		dir:    cfg.Dir,
		table:  os.Stdout,
		logger: &logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dir == "" {
		return nil, fmt.Errorf("%w: empty output directory", config.ErrInvalidConfig)
	}

	for _, sub := range []string{ResidualsDir, IterationsDir} {
		if err := os.MkdirAll(filepath.Join(m.dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return m, nil
}

// Dir returns the root output directory
func (m *Manager) Dir() string { return m.dir }

// SaveIteration writes the newest residual and the current frequency list
func (m *Manager) SaveIteration(history []*timeseries.Series, freqs *model.Frequencies, offset float64) error {
	if len(history) == 0 {
		return nil
	}
	n := len(history) - 1

	residPath := filepath.Join(m.dir, ResidualsDir, fmt.Sprintf(residualFormat, n))
	if err := timeseries.WriteFile(residPath, history[n]); err != nil {
		return err
	}

	listPath := filepath.Join(m.dir, IterationsDir, fmt.Sprintf(iterFormat, n))
	if err := writeFile(listPath, func(w io.Writer) error {
		return writeIterationCSV(w, freqs, offset)
	}); err != nil {
		return err
	}

	m.logger.Debug("Saved iteration output", logging.Fields{
		"iteration": n,
		"residual":  residPath,
		"list":      listPath,
	})
	return nil
}

// SaveFinal writes the final CSV and LaTeX tables and prints the console
// table when enabled
func (m *Manager) SaveFinal(freqs *model.Frequencies) error {
	csvPath := filepath.Join(m.dir, FinalCSV)
	if err := writeFile(csvPath, func(w io.Writer) error {
		return writeFinalCSV(w, freqs)
	}); err != nil {
		return err
	}

	texPath := filepath.Join(m.dir, FinalLaTeX)
	if err := writeFile(texPath, func(w io.Writer) error {
		return WriteLaTeX(w, freqs, m.cfg.Precision)
	}); err != nil {
		return err
	}

	m.logger.Info("Saved frequency tables", logging.Fields{
		"csv":   csvPath,
		"latex": texPath,
		"count": freqs.Len(),
	})

	if m.cfg.PrintTable {
		return PrintTable(m.table, freqs, m.cfg.Precision)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeIterationCSV(out io.Writer, freqs *model.Frequencies, offset float64) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"index", "frequency", "amplitude", "phase", "frequency0", "amplitude0", "phase0"}); err != nil {
		return err
	}
	for _, r := range freqs.All() {
		if err := w.Write([]string{
			strconv.Itoa(r.Index),
			fmtFloat(r.F), fmtFloat(r.A), fmtFloat(r.P),
			fmtFloat(r.F0), fmtFloat(r.A0), fmtFloat(r.P0),
		}); err != nil {
			return err
		}
	}
	if err := w.Write([]string{"offset", fmtFloat(offset)}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeFinalCSV(out io.Writer, freqs *model.Frequencies) error {
	w := csv.NewWriter(out)
	header := []string{
		"index", "frequency", "sigma_frequency", "amplitude", "sigma_amplitude",
		"phase", "sigma_phase", "sig_red_noise", "sig_box", "sig_poly",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range freqs.All() {
		if err := w.Write([]string{
			strconv.Itoa(r.Index),
			fmtFloat(r.F), fmtFloat(r.SigmaF),
			fmtFloat(r.A), fmtFloat(r.SigmaA),
			fmtFloat(r.P), fmtFloat(r.SigmaP),
			fmtFloat(r.SigRedNoise), fmtFloat(r.SigBox), fmtFloat(r.SigPoly),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteLaTeX writes the frequencies as a tabular environment with values in
// value(error) notation
func WriteLaTeX(w io.Writer, freqs *model.Frequencies, digits int) error {
	lines := []string{
		`\begin{tabular}{lrrrrrr}`,
		`\hline`,
		`ID & Frequency & Amplitude & Phase & S/N (SLF) & S/N (box) & S/N (poly) \\`,
		`\hline`,
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	for _, r := range freqs.All() {
		if _, err := fmt.Fprintf(w, "$f_{%d}$ & %s & %s & %s & %.1f & %.1f & %.1f \\\\\n",
			r.Index+1,
			FormatWithUncertainty(r.F, r.SigmaF, digits),
			FormatWithUncertainty(r.A, r.SigmaA, digits),
			FormatWithUncertainty(r.P, r.SigmaP, digits),
			r.SigRedNoise, r.SigBox, r.SigPoly,
		); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, `\hline`+"\n"+`\end{tabular}`)
	return err
}

// PrintTable renders the frequencies as a console table
func PrintTable(w io.Writer, freqs *model.Frequencies, digits int) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"#", "Frequency", "Amplitude", "Phase", "S/N SLF", "S/N Box", "S/N Poly"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, r := range freqs.All() {
		data = append(data, []string{
			fmt.Sprintf("f%d", r.Index+1),
			FormatWithUncertainty(r.F, r.SigmaF, digits),
			FormatWithUncertainty(r.A, r.SigmaA, digits),
			FormatWithUncertainty(r.P, r.SigmaP, digits),
			fmt.Sprintf("%.1f", r.SigRedNoise),
			fmt.Sprintf("%.1f", r.SigBox),
			fmt.Sprintf("%.1f", r.SigPoly),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

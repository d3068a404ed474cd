package timeseries

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadText parses whitespace separated columns of time, value and an optional
// uncertainty. Blank lines and lines starting with '#' are skipped.
func ReadText(r io.Reader) (*Series, error) {
	var time, data, errs []float64
	withErr := -1

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ','
		})
		if len(fields) != 2 && len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d has %d columns, want 2 or 3", ErrInvalidSeries, lineNo, len(fields))
		}
		if withErr == -1 {
			withErr = len(fields) - 2
		} else if withErr != len(fields)-2 {
			return nil, fmt.Errorf("%w: line %d changes the column count", ErrInvalidSeries, lineNo)
		}

		vals := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSeries, lineNo, err)
			}
			vals[i] = v
		}
		time = append(time, vals[0])
		data = append(data, vals[1])
		if withErr == 1 {
			errs = append(errs, vals[2])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read time series: %w", err)
	}
	return New(time, data, errs)
}

// ReadFile reads a series from a text file
func ReadFile(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open time series: %w", err)
	}
	defer f.Close()

	s, err := ReadText(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteText writes the series as three whitespace separated columns
func WriteText(w io.Writer, s *Series) error {
	bw := bufio.NewWriter(w)
	for i := range s.time {
		line := strconv.FormatFloat(s.time[i], 'g', -1, 64) + " " +
			strconv.FormatFloat(s.data[i], 'g', -1, 64) + " " +
			strconv.FormatFloat(s.err[i], 'g', -1, 64) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the series to path, replacing any existing file
func WriteFile(path string, s *Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteText(f, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

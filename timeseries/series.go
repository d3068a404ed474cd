package timeseries

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-whiten/algorithms/common"
)

// ErrInvalidSeries marks inputs that cannot form a time series
var ErrInvalidSeries = errors.New("invalid time series")

// Series is an immutable sequence of (time, value, uncertainty) samples.
// Operations that change the values return a new Series.
type Series struct {
	time []float64
	data []float64
	err  []float64
}

// New validates and copies the inputs. A nil err slice means unit uncertainties.
func New(time, data, err []float64) (*Series, error) {
	if len(time) != len(data) {
		return nil, fmt.Errorf("%w: %d times but %d values", ErrInvalidSeries, len(time), len(data))
	}
	if err != nil && len(err) != len(time) {
		return nil, fmt.Errorf("%w: %d times but %d uncertainties", ErrInvalidSeries, len(time), len(err))
	}
	if len(time) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInvalidSeries, len(time))
	}
	if !common.AllFinite(time) || !common.AllFinite(data) {
		return nil, fmt.Errorf("%w: non-finite time or value", ErrInvalidSeries)
	}
	if common.Span(time) == 0 {
		return nil, fmt.Errorf("%w: zero time span", ErrInvalidSeries)
	}

	s := &Series{
		time: append([]float64(nil), time...),
		data: append([]float64(nil), data...),
		err:  make([]float64, len(time)),
	}
	if err == nil {
		for i := range s.err {
			s.err[i] = 1
		}
	} else {
		for i, e := range err {
			if !(e > 0) || math.IsInf(e, 0) {
				return nil, fmt.Errorf("%w: uncertainty %g at index %d must be positive and finite", ErrInvalidSeries, e, i)
			}
			s.err[i] = e
		}
	}
	return s, nil
}

// withData shares the time and uncertainty axes of s
func (s *Series) withData(data []float64) *Series {
	return &Series{time: s.time, data: data, err: s.err}
}

func (s *Series) Len() int { return len(s.time) }

// Time returns the time axis. The slice must not be modified.
func (s *Series) Time() []float64 { return s.time }

// Data returns the values. The slice must not be modified.
func (s *Series) Data() []float64 { return s.data }

// Err returns the per-sample uncertainties. The slice must not be modified.
func (s *Series) Err() []float64 { return s.err }

// Span returns max(time) - min(time)
func (s *Series) Span() float64 { return common.Span(s.time) }

func (s *Series) Mean() float64 { return common.Mean(s.data) }

// Std returns the population standard deviation of the values
func (s *Series) Std() float64 { return common.PopStdDev(s.data) }

// SignChanges counts sign flips between consecutive non-zero values, used as
// the number of independent noise realizations of a residual
func (s *Series) SignChanges() int { return common.SignChanges(s.data) }

// Subtract returns a new series with model removed from the values
func (s *Series) Subtract(model []float64) (*Series, error) {
	if len(model) != len(s.data) {
		return nil, fmt.Errorf("%w: model has %d samples, series has %d", ErrInvalidSeries, len(model), len(s.data))
	}
	out := make([]float64, len(s.data))
	for i, v := range s.data {
		out[i] = v - model[i]
	}
	if !common.AllFinite(out) {
		return nil, fmt.Errorf("%w: non-finite residual", ErrInvalidSeries)
	}
	return s.withData(out), nil
}

// SubtractMean returns a new series with zero mean
func (s *Series) SubtractMean() *Series {
	mean := s.Mean()
	out := make([]float64, len(s.data))
	for i, v := range s.data {
		out[i] = v - mean
	}
	return s.withData(out)
}

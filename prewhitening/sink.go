package prewhitening

import (
	"github.com/RyanBlaney/sonido-whiten/model"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
)

// Sink receives the results of a run. Calls are synchronous; returned errors
// are logged by the caller and never stop the run.
type Sink interface {
	// SaveIteration is called after every completed iteration with the
	// original series followed by all residuals so far
	SaveIteration(history []*timeseries.Series, freqs *model.Frequencies, offset float64) error

	// SaveFinal is called once after post-processing
	SaveFinal(freqs *model.Frequencies) error
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) SaveIteration([]*timeseries.Series, *model.Frequencies, float64) error { return nil }
func (NopSink) SaveFinal(*model.Frequencies) error                                   { return nil }

package prewhitening

import (
	"context"
	"fmt"

	"github.com/RyanBlaney/sonido-whiten/config"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"golang.org/x/sync/errgroup"
)

// RunBatch runs Auto on every series with at most workers runs in flight
// (workers <= 0 means one run per series). Each run gets its own whitener,
// so no state crosses runs. optsFor, when non-nil, supplies the options of
// run i; sinks and loggers shared between runs must be safe for concurrent
// use. The first failure cancels the remaining runs.
func RunBatch(ctx context.Context, series []*timeseries.Series, cfg *config.Config, workers int, optsFor func(i int) []Option) ([]*Result, error) {
	results := make([]*Result, len(series))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, s := range series {
		g.Go(func() error {
			var opts []Option
			if optsFor != nil {
				opts = optsFor(i)
			}
			w, err := New(s, cfg, opts...)
			if err != nil {
				return fmt.Errorf("series %d: %w", i, err)
			}
			res, err := w.Auto(ctx)
			if err != nil {
				return fmt.Errorf("series %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

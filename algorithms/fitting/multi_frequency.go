package fitting

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-whiten/algorithms/lsq"
	"github.com/RyanBlaney/sonido-whiten/logging"
	"github.com/RyanBlaney/sonido-whiten/model"
	"github.com/RyanBlaney/sonido-whiten/timeseries"
	"gonum.org/v1/gonum/mat"
)

// BoundaryWarning flags a fitted parameter that ended close to one of its bounds
type BoundaryWarning struct {
	Index int    // position of the record in the collection
	Param string // "f", "a" or "p"
	Value float64
	Bound float64
	Upper bool
}

func (w BoundaryWarning) String() string {
	side := "lower"
	if w.Upper {
		side = "upper"
	}
	return fmt.Sprintf("%s %g of f%d near %s boundary %g", w.Param, w.Value, w.Index, side, w.Bound)
}

// MultiResult is the outcome of a joint fit
type MultiResult struct {
	Model     []float64 // joint model at the series times, offset included
	Offset    float64
	ChiSquare float64
	Warnings  []BoundaryWarning
}

// paramKey names the parameters of record i: f<i>f, f<i>a, f<i>p
func paramKey(i int, kind string) string {
	return fmt.Sprintf("f%d%s", i, kind)
}

const offsetKey = "zp"

// MultiFrequency fits every record of fs jointly against s, starting from
// their current values, plus a floating offset when enabled. The records are
// updated in place: the optimizer is their only writer during the call and
// the caller must not read them concurrently. Boundary warnings are logged and
// returned, never fatal.
func (o *Optimizer) MultiFrequency(s *timeseries.Series, fs *model.Frequencies) (*MultiResult, error) {
	records := fs.All()
	if len(records) == 0 {
		return nil, fmt.Errorf("multi frequency fit: no frequencies")
	}
	times, values, errs := s.Time(), s.Data(), s.Err()

	params := make([]lsq.Param, 0, 3*len(records)+1)
	for i, r := range records {
		params = append(params,
			o.frequencyParam(paramKey(i, "f"), r.F),
			o.amplitudeParam(paramKey(i, "a"), r.A),
			o.phaseParam(paramKey(i, "p"), r.P),
		)
	}
	if o.cfg.IncludeOffset {
		params = append(params, lsq.Free(offsetKey, o.offset))
	}

	jointModel := func(t float64, x []float64) float64 {
		y := 0.0
		for i, r := range records {
			y += r.Family.Eval(t-r.Epoch, x[3*i], x[3*i+1], x[3*i+2])
		}
		if o.cfg.IncludeOffset {
			y += x[3*len(records)]
		}
		return y
	}

	problem := &lsq.Problem{
		Params:       params,
		NumResiduals: len(times),
		Residuals: func(dst, x []float64) {
			for j, t := range times {
				dst[j] = (values[j] - jointModel(t, x)) / errs[j]
			}
		},
		Jacobian: func(dst *mat.Dense, x []float64) {
			for j, t := range times {
				for i, r := range records {
					df, da, dp := r.Family.Partials(t-r.Epoch, x[3*i], x[3*i+1], x[3*i+2])
					dst.Set(j, 3*i, -df/errs[j])
					dst.Set(j, 3*i+1, -da/errs[j])
					dst.Set(j, 3*i+2, -dp/errs[j])
				}
				if o.cfg.IncludeOffset {
					dst.Set(j, 3*len(records), -1/errs[j])
				}
			}
		},
	}

	fit, err := o.solver.Solve(problem)
	if err != nil {
		return nil, fmt.Errorf("multi frequency fit of %d terms: %w", len(records), err)
	}

	result := &MultiResult{ChiSquare: fit.ChiSquare}
	for i, r := range records {
		for k, kind := range []string{"f", "a", "p"} {
			if w, ok := o.checkBoundary(i, kind, fit.Params[3*i+k]); ok {
				result.Warnings = append(result.Warnings, w)
				o.logger.Warn("Fitted parameter close to boundary", logging.Fields{
					"record": i,
					"param":  kind,
					"value":  w.Value,
					"bound":  w.Bound,
				})
			}
		}
		r.Update(fit.Params[3*i].Value, fit.Params[3*i+1].Value, fit.Params[3*i+2].Value)
	}

	if o.cfg.IncludeOffset {
		o.offset = fit.Params[3*len(records)].Value
		result.Offset = o.offset
	}
	result.Model = fs.Model(times, result.Offset)
	return result, nil
}

func (o *Optimizer) checkBoundary(index int, kind string, p lsq.Param) (BoundaryWarning, bool) {
	thr := o.cfg.BoundaryWarning
	if thr <= 0 {
		return BoundaryWarning{}, false
	}
	limit := thr * math.Abs(p.Value)
	w := BoundaryWarning{Index: index, Param: kind, Value: p.Value}
	switch {
	case math.Abs(p.Min-p.Value) < limit:
		w.Bound = p.Min
	case math.Abs(p.Max-p.Value) < limit:
		w.Bound, w.Upper = p.Max, true
	default:
		return BoundaryWarning{}, false
	}
	return w, true
}

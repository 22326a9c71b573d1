package export

import (
	"fmt"
	"strconv"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

// Options shape the histogram and loss datasets.
type Options struct {
	Bins       int // zero picks the process default
	View       models.View
	Loss       decision.Loss
	GridPoints int
}

// FromEngine takes dataset ds from a finished engine. The loss dataset runs
// the decision analysis over the engine's terminal sample.
func FromEngine(e *playback.Engine, ds Dataset, opts Options) (Run, error) {
	run := Run{Meta: Meta{RunID: e.RunID(), Process: e.Process(), Params: e.Params()}}
	switch ds {
	case DatasetPaths:
		run.Paths = e.Simulator().Background()
	case DatasetTerminals:
		run.Samples = e.Samples()
	case DatasetHistogram:
		bins := opts.Bins
		if bins <= 0 {
			bins = playback.DefaultBins(e.Process())
		}
		view := opts.View
		if view == "" {
			view = models.ViewLinear
		}
		run.Extra = map[string]string{"view": string(view), "bins": strconv.Itoa(bins)}
		run.Histogram = e.Aggregate().Histogram(bins, view)
	case DatasetLoss:
		res, err := decision.Analyze(e.Samples(), opts.Loss, opts.GridPoints)
		if err != nil {
			return Run{}, err
		}
		run.Loss = res
	default:
		return Run{}, fmt.Errorf("unknown dataset %q", ds)
	}
	return run, nil
}

// Rows is the row count ds contributes from run.
func (r Run) Rows(ds Dataset) int {
	switch ds {
	case DatasetPaths:
		n := 0
		for _, p := range r.Paths {
			n += len(p)
		}
		return n
	case DatasetTerminals:
		return len(r.Samples)
	case DatasetHistogram:
		return len(r.Histogram)
	case DatasetLoss:
		if r.Loss != nil {
			return len(r.Loss.Curve)
		}
	}
	return 0
}

package decision

import (
	"math"
	"sort"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
)

// Result is an expected-loss curve with its grid minimiser and the
// closed-form minimiser of the same family.
type Result struct {
	Loss  Loss           `json:"loss"`
	N     int            `json:"n"`
	Curve []models.Point `json:"curve"` // (a, expected loss)

	// Lo and Hi are the 5th and 95th sample percentiles the grid spans.
	Lo models.Stat `json:"lo"`
	Hi models.Stat `json:"hi"`

	// ArgMin indexes Curve; -1 when the curve is empty.
	ArgMin  int         `json:"argmin"`
	AStar   models.Stat `json:"a_star"`
	MinLoss models.Stat `json:"min_loss"`

	// ClosedForm is the sample mean, median or tau-quantile.
	ClosedForm models.Stat `json:"closed_form"`
}

// CellWidth returns the grid spacing, zero for a single-point grid.
func (r *Result) CellWidth() float64 {
	if len(r.Curve) < 2 {
		return 0
	}
	return (float64(r.Hi) - float64(r.Lo)) / float64(len(r.Curve)-1)
}

// Agrees reports whether the grid argmin lies within one grid cell of the
// closed-form minimiser. A closed form outside [Lo, Hi] (a pinball tau beyond
// the grid range) is compared with the nearest grid end.
func (r *Result) Agrees() bool {
	if r.ArgMin < 0 || !r.ClosedForm.Defined() {
		return false
	}
	target := math.Min(math.Max(float64(r.ClosedForm), float64(r.Lo)), float64(r.Hi))
	return math.Abs(float64(r.AStar)-target) <= r.CellWidth()*(1+1e-9)
}

// Analyze evaluates the expected loss of l on a grid of gridPoints decisions
// spanning [P5, P95] of samples and scans it for the minimum; ties go to the
// first grid point. gridPoints below 2 means constants.DefaultGridPoints.
// When P5 equals P95 the grid collapses to that single point.
//
// An empty sample yields an empty curve with undefined statistics, not an
// error. Only an invalid loss is an error.
func Analyze(samples []float64, l Loss, gridPoints int) (*Result, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	r := &Result{
		Loss:       l,
		N:          len(samples),
		Lo:         models.Undefined,
		Hi:         models.Undefined,
		ArgMin:     -1,
		AStar:      models.Undefined,
		MinLoss:    models.Undefined,
		ClosedForm: models.Undefined,
	}
	if len(samples) == 0 {
		return r, nil
	}
	if gridPoints < 2 {
		gridPoints = constants.DefaultGridPoints
	}

	asc := append([]float64(nil), samples...)
	sort.Float64s(asc)
	lo := montecarlo.Quantile(asc, constants.LowerDecisionQuantile)
	hi := montecarlo.Quantile(asc, constants.UpperDecisionQuantile)
	r.Lo, r.Hi = models.Stat(lo), models.Stat(hi)
	r.ClosedForm = models.Stat(ClosedForm(asc, l))

	if !(hi > lo) {
		gridPoints = 1
	}
	r.Curve = make([]models.Point, gridPoints)
	for i := range r.Curve {
		a := lo
		if gridPoints > 1 {
			a = lo + (hi-lo)*(float64(i)/float64(gridPoints-1))
		}
		r.Curve[i] = models.Point{X: a, Y: ExpectedLoss(samples, a, l)}
	}

	best := 0
	for i := 1; i < len(r.Curve); i++ {
		if r.Curve[i].Y < r.Curve[best].Y {
			best = i
		}
	}
	r.ArgMin = best
	r.AStar = models.Stat(r.Curve[best].X)
	r.MinLoss = models.Stat(r.Curve[best].Y)
	return r, nil
}

// ClosedForm returns the exact minimiser of the sample expected loss over an
// ascending sample: the mean for squared loss, the median for absolute loss
// and the tau-quantile for pinball loss. Both quantiles interpolate at
// pos = (n-1) q like montecarlo.Quantile. It is NaN for an empty sample.
func ClosedForm(ascending []float64, l Loss) float64 {
	if len(ascending) == 0 {
		return math.NaN()
	}
	switch l.Kind {
	case KindSquared:
		mean, _ := montecarlo.MeanVariance(ascending)
		return mean
	case KindAbsolute:
		return montecarlo.Quantile(ascending, 0.5)
	case KindPinball:
		return montecarlo.Quantile(ascending, l.Tau)
	default:
		return math.NaN()
	}
}

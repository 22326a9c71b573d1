// Package montecarlo collects terminal values of completed paths and derives
// statistics, histograms and reference densities from them.
//
// Every statistic is recomputed from the full sample on each call. Queries
// against an empty aggregate return NaN or empty slices rather than errors:
// an empty sample is the normal state at the start of a run.
package montecarlo

import (
	"math"
	"sort"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
)

// Aggregate holds the terminal values of one run in completion order.
type Aggregate struct {
	process models.Process
	params  models.Params
	samples []float64
}

// New returns an empty aggregate for a run of process with params. The
// parameters only feed the theoretical histogram domain and reference curves.
func New(process models.Process, params models.Params) *Aggregate {
	return &Aggregate{process: process, params: params}
}

// Ingest appends one terminal value.
func (a *Aggregate) Ingest(v float64) {
	a.samples = append(a.samples, v)
}

// Reset drops every sample.
func (a *Aggregate) Reset() {
	a.samples = a.samples[:0]
}

// N returns the sample count.
func (a *Aggregate) N() int { return len(a.samples) }

// Samples returns a copy of the samples in completion order.
func (a *Aggregate) Samples() []float64 {
	return append([]float64(nil), a.samples...)
}

// Last returns the most recent sample.
func (a *Aggregate) Last() (float64, bool) {
	if len(a.samples) == 0 {
		return math.NaN(), false
	}
	return a.samples[len(a.samples)-1], true
}

// MeanAndVariance returns the sample mean and the n-1 sample variance. The
// mean is NaN for an empty aggregate and the variance is NaN below two
// samples.
func (a *Aggregate) MeanAndVariance() (mean, variance float64) {
	return MeanVariance(a.samples)
}

// Quantile returns the q-quantile, interpolating linearly between order
// statistics at position (n-1) q. It is NaN for an empty aggregate or q
// outside [0, 1].
func (a *Aggregate) Quantile(q float64) float64 {
	return Quantile(sorted(a.samples), q)
}

// MeanVariance is the two-pass mean and n-1 variance of xs.
func MeanVariance(xs []float64) (mean, variance float64) {
	n := len(xs)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, ss / float64(n-1)
}

// Quantile interpolates the q-quantile of an ascending slice.
func Quantile(ascending []float64, q float64) float64 {
	n := len(ascending)
	if n == 0 || !(q >= 0 && q <= 1) {
		return math.NaN()
	}
	pos := float64(n-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return ascending[lo]
	}
	frac := pos - float64(lo)
	return ascending[lo] + (ascending[hi]-ascending[lo])*frac
}

func sorted(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// Domain returns the histogram domain in the coordinate selected by view:
// the theoretical mean +/- 4 standard deviations. For the Wiener process the
// view is ignored and the domain is +/- 4 sqrt(T). For GBM the band is taken
// in log space; ViewLinear maps it back through exp.
func (a *Aggregate) Domain(view models.View) (lo, hi float64) {
	if !a.process.LogDomain() {
		sd := math.Sqrt(a.params.T)
		return -constants.DomainSigmas * sd, constants.DomainSigmas * sd
	}
	m, s := logNormalParams(a.params)
	lo, hi = m-constants.DomainSigmas*s, m+constants.DomainSigmas*s
	if view == models.ViewLog {
		return lo, hi
	}
	return math.Exp(lo), math.Exp(hi)
}

// coordinate maps a sample into the histogram coordinate.
func (a *Aggregate) coordinate(v float64, view models.View) float64 {
	if a.process.LogDomain() && view == models.ViewLog {
		return math.Log(v)
	}
	return v
}

// Histogram bins the samples over Domain(view). bins is clamped to
// [constants.MinBins, constants.MaxBins]. Densities are count / (n * width)
// with n the full sample count, so samples outside the domain lower every
// bar instead of being folded into the edge bins. It returns nil for an
// empty aggregate.
func (a *Aggregate) Histogram(bins int, view models.View) []models.Bin {
	n := len(a.samples)
	if n == 0 {
		return nil
	}
	bins = clampInt(bins, constants.MinBins, constants.MaxBins)
	lo, hi := a.Domain(view)
	width := (hi - lo) / float64(bins)
	if !(width > 0) || math.IsInf(width, 0) {
		return nil
	}

	counts := make([]int, bins)
	for _, v := range a.samples {
		x := a.coordinate(v, view)
		if !(x >= lo && x <= hi) {
			continue
		}
		i := int((x - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}

	out := make([]models.Bin, bins)
	for i, c := range counts {
		binLo := lo + float64(i)*width
		out[i] = models.Bin{
			Center:  binLo + width/2,
			Lo:      binLo,
			Hi:      binLo + width,
			Count:   c,
			Density: float64(c) / (float64(n) * width),
		}
	}
	return out
}

// Reference samples the theoretical density of the terminal value on
// Domain(view) at points evenly spaced abscissae: N(0, T) for Wiener, the
// normal density of log S(T) for GBM in log view and the lognormal density
// of S(T) otherwise. It does not depend on the samples. It returns nil when
// the domain overflows float64.
func (a *Aggregate) Reference(view models.View, points int) []models.Point {
	if points < 2 {
		points = constants.DefaultReferencePoints
	}
	lo, hi := a.Domain(view)
	step := (hi - lo) / float64(points-1)
	if math.IsInf(lo, 0) || !(step > 0) || math.IsInf(step, 0) {
		return nil
	}

	out := make([]models.Point, points)
	for i := range out {
		x := lo + float64(i)*step
		var y float64
		switch {
		case !a.process.LogDomain():
			y = normalPDF(x, 0, math.Sqrt(a.params.T))
		case view == models.ViewLog:
			m, s := logNormalParams(a.params)
			y = normalPDF(x, m, s)
		default:
			m, s := logNormalParams(a.params)
			y = logNormalPDF(x, m, s)
		}
		out[i] = models.Point{X: x, Y: y}
	}
	return out
}

// logNormalParams returns the mean and standard deviation of log S(T), with
// the deviation floored so a zero-volatility run still has a domain.
func logNormalParams(p models.Params) (m, s float64) {
	m = math.Log(p.S0) + (p.Mu-0.5*p.Sigma*p.Sigma)*p.T
	s = math.Max(p.Sigma*math.Sqrt(p.T), constants.MinLogScale)
	return m, s
}

func normalPDF(x, m, s float64) float64 {
	z := (x - m) / s
	return math.Exp(-0.5*z*z) / (s * math.Sqrt(2*math.Pi))
}

func logNormalPDF(x, m, s float64) float64 {
	if x <= 0 {
		return 0
	}
	return normalPDF(math.Log(x), m, s) / x
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

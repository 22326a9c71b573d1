package simulation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/rng"
)

// GBMParams builds GBM parameters with the default step count.
func GBMParams(seed uint32, s0, mu, sigma, horizon float64, paths int) models.Params {
	p := models.DefaultParams()
	p.Seed = seed
	p.S0 = s0
	p.Mu = mu
	p.Sigma = sigma
	p.T = horizon
	p.Paths = paths
	return p
}

// WienerParams builds Wiener parameters. S0, Mu and Sigma keep their
// defaults, which the Wiener process ignores.
func WienerParams(seed uint32, horizon float64, steps, paths int) models.Params {
	p := models.DefaultParams()
	p.Seed = seed
	p.T = horizon
	p.Steps = steps
	p.Paths = paths
	return p
}

// JitterCadence returns n tick intervals drawn uniformly from [lo, hi],
// reproducible from seed. It models a frame clock that never fires on time.
func JitterCadence(seed uint32, n int, lo, hi time.Duration) []time.Duration {
	g := rng.NewMulberry32(seed)
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = lo + time.Duration(g.Next()*float64(hi-lo))
	}
	return out
}

// LogSamples returns the natural log of every sample.
func LogSamples(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = math.Log(v)
	}
	return out
}

// SampleMoments returns the mean and unbiased variance of xs.
func SampleMoments(xs []float64) (mean, variance float64) {
	return montecarlo.MeanVariance(xs)
}

// theoreticalDensity evaluates the terminal density of a result's process in
// the given histogram coordinate.
func theoreticalDensity(r Result, view models.View, x float64) float64 {
	th := r.Theory
	switch {
	case !r.Scenario.Process.LogDomain():
		return normalPDF(x, 0, math.Sqrt(float64(th.Variance)))
	case view == models.ViewLog:
		return normalPDF(x, float64(th.LogMean), float64(th.LogStdDev))
	case x <= 0:
		return 0
	default:
		return normalPDF(math.Log(x), float64(th.LogMean), float64(th.LogStdDev)) / x
	}
}

func normalPDF(x, m, s float64) float64 {
	z := (x - m) / s
	return math.Exp(-0.5*z*z) / (s * math.Sqrt(2*math.Pi))
}

// FormatResultDebug returns a debug string for a scenario result.
func FormatResultDebug(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario %s: process=%s n=%d ticks=%d steps=%d mode=%v err=%v\n",
		r.Scenario.Name, r.Scenario.Process, r.Summary.N, r.Ticks, r.TotalSteps, r.Mode, r.Err)
	fmt.Fprintf(&b, "  mean=%.6g (theory %.6g) variance=%.6g (theory %.6g)\n",
		float64(r.Summary.Mean), float64(r.Theory.Mean), float64(r.Summary.Variance), float64(r.Theory.Variance))
	for _, cp := range r.Checkpoints {
		fmt.Fprintf(&b, "  checkpoint tick=%d n=%d steps=%d mean=%.6g\n", cp.Tick, cp.N, cp.TotalSteps, float64(cp.Summary.Mean))
	}
	if r.Decision != nil {
		fmt.Fprintf(&b, "  decision %s: a*=%.6g closed=%.6g agrees=%v\n",
			r.Decision.Loss, float64(r.Decision.AStar), float64(r.Decision.ClosedForm), r.Decision.Agrees())
	}
	return b.String()
}

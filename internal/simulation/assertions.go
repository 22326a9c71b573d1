package simulation

import (
	"math"
	"testing"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

// AssertCompleted asserts that the run reached its path target without error.
func AssertCompleted(t *testing.T, result Result) {
	t.Helper()
	if result.Err != nil {
		t.Errorf("AssertCompleted: %s stopped with error: %v", result.Scenario.Name, result.Err)
		return
	}
	if got, want := len(result.Samples), result.Scenario.Params.Paths; got != want {
		t.Errorf("AssertCompleted: %s collected %d samples, want %d", result.Scenario.Name, got, want)
	}
	if result.Mode != playback.ModeIdle {
		t.Errorf("AssertCompleted: %s ended in mode %v, want idle", result.Scenario.Name, result.Mode)
	}
}

// AssertMeanWithin asserts that the sample mean is within relTol of want,
// relative to |want|. A zero want is compared absolutely.
func AssertMeanWithin(t *testing.T, result Result, want, relTol float64) {
	t.Helper()
	mean, _ := SampleMoments(result.Samples)
	if !within(mean, want, relTol) {
		t.Errorf("AssertMeanWithin: %s mean %.6g not within %.2g of %.6g", result.Scenario.Name, mean, relTol, want)
	}
}

// AssertVarianceWithin asserts that the sample variance is within relTol of
// want, relative to want.
func AssertVarianceWithin(t *testing.T, result Result, want, relTol float64) {
	t.Helper()
	_, variance := SampleMoments(result.Samples)
	if !within(variance, want, relTol) {
		t.Errorf("AssertVarianceWithin: %s variance %.6g not within %.2g of %.6g", result.Scenario.Name, variance, relTol, want)
	}
}

// AssertLogVarianceWithin asserts that the variance of log S(T) is within
// relTol of want. Every sample must be positive.
func AssertLogVarianceWithin(t *testing.T, result Result, want, relTol float64) {
	t.Helper()
	for i, v := range result.Samples {
		if !(v > 0) {
			t.Errorf("AssertLogVarianceWithin: %s sample %d = %v is not positive", result.Scenario.Name, i, v)
			return
		}
	}
	_, variance := SampleMoments(LogSamples(result.Samples))
	if !within(variance, want, relTol) {
		t.Errorf("AssertLogVarianceWithin: %s log variance %.6g not within %.2g of %.6g", result.Scenario.Name, variance, relTol, want)
	}
}

// AssertMeanZScore asserts that the sample mean lies within maxZ standard
// errors of the theoretical mean.
func AssertMeanZScore(t *testing.T, result Result, maxZ float64) {
	t.Helper()
	n := len(result.Samples)
	if n < 2 {
		t.Errorf("AssertMeanZScore: %s has %d samples", result.Scenario.Name, n)
		return
	}
	mean, variance := SampleMoments(result.Samples)
	se := math.Sqrt(variance / float64(n))
	z := (mean - float64(result.Theory.Mean)) / se
	if math.IsNaN(z) || math.Abs(z) > maxZ {
		t.Errorf("AssertMeanZScore: %s z = %.3f (mean %.6g, theory %.6g, se %.3g), want |z| <= %.1f",
			result.Scenario.Name, z, mean, float64(result.Theory.Mean), se, maxZ)
	}
}

// AssertHistogramMatchesReference asserts that every histogram bar is within
// tol of the theoretical density at its center, measured as a fraction of the
// peak theoretical density.
func AssertHistogramMatchesReference(t *testing.T, result Result, bins int, view models.View, tol float64) {
	t.Helper()
	hist := result.Engine.Aggregate().Histogram(bins, view)
	if len(hist) == 0 {
		t.Errorf("AssertHistogramMatchesReference: %s has no histogram", result.Scenario.Name)
		return
	}

	ref := make([]float64, len(hist))
	peak := 0.0
	for i, b := range hist {
		ref[i] = theoreticalDensity(result, view, b.Center)
		peak = math.Max(peak, ref[i])
	}
	for i, b := range hist {
		if d := math.Abs(b.Density - ref[i]); d > tol*peak {
			t.Errorf("AssertHistogramMatchesReference: %s bin %d [%.4g, %.4g): density %.4g, reference %.4g",
				result.Scenario.Name, i, b.Lo, b.Hi, b.Density, ref[i])
		}
	}
}

// AssertSameSamples asserts that two runs produced bit-identical samples.
func AssertSameSamples(t *testing.T, a, b Result) {
	t.Helper()
	if len(a.Samples) != len(b.Samples) {
		t.Errorf("AssertSameSamples: %s has %d samples, %s has %d",
			a.Scenario.Name, len(a.Samples), b.Scenario.Name, len(b.Samples))
		return
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Errorf("AssertSameSamples: sample %d differs: %s=%v %s=%v",
				i, a.Scenario.Name, a.Samples[i], b.Scenario.Name, b.Samples[i])
			return
		}
	}
}

// AssertCheckpointsMonotone asserts that sample counts and total steps never
// decrease across checkpoints.
func AssertCheckpointsMonotone(t *testing.T, result Result) {
	t.Helper()
	for i := 1; i < len(result.Checkpoints); i++ {
		prev, cur := result.Checkpoints[i-1], result.Checkpoints[i]
		if cur.N < prev.N || cur.TotalSteps < prev.TotalSteps {
			t.Errorf("AssertCheckpointsMonotone: %s checkpoint %d (n=%d steps=%d) after (n=%d steps=%d)",
				result.Scenario.Name, i, cur.N, cur.TotalSteps, prev.N, prev.TotalSteps)
		}
	}
}

// AssertDecisionAgrees asserts that the grid minimiser of the scenario's
// loss agrees with its closed form.
func AssertDecisionAgrees(t *testing.T, result Result) {
	t.Helper()
	d := result.Decision
	if d == nil {
		t.Errorf("AssertDecisionAgrees: %s has no decision analysis", result.Scenario.Name)
		return
	}
	if !d.Agrees() {
		t.Errorf("AssertDecisionAgrees: %s %s: a* = %.6g, closed form %.6g, cell %.3g",
			result.Scenario.Name, d.Loss, float64(d.AStar), float64(d.ClosedForm), d.CellWidth())
	}
}

func within(got, want, relTol float64) bool {
	scale := math.Abs(want)
	if scale == 0 {
		scale = 1
	}
	return math.Abs(got-want) <= relTol*scale
}

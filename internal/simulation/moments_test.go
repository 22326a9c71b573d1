package simulation_test

import (
	"math"
	"testing"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/simulation"
)

// TestGBMTerminalMoments checks the terminal law of the stepped GBM against
// the exact lognormal moments.
func TestGBMTerminalMoments(t *testing.T) {
	r := simulation.NewRunner(t)

	p := simulation.GBMParams(0, 100, 0, 0.2, 1, 50000)
	p.Steps = 64
	result := r.Run(simulation.Scenario{
		Name:    "gbm-moments",
		Process: models.ProcessGBM,
		Params:  p,
	})

	simulation.AssertCompleted(t, result)
	simulation.AssertMeanWithin(t, result, 100, 0.02)
	simulation.AssertLogVarianceWithin(t, result, 0.04, 0.05)
	simulation.AssertMeanZScore(t, result, 5)

	if t.Failed() {
		t.Log(simulation.FormatResultDebug(result))
	}
}

func TestWienerTerminalMoments(t *testing.T) {
	r := simulation.NewRunner(t)

	tests := []struct {
		name    string
		horizon float64
	}{
		{"unit horizon", 1},
		{"long horizon", 4},
		{"short horizon", 0.25},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Run(simulation.Scenario{
				Name:    "wiener-" + tt.name,
				Process: models.ProcessWiener,
				Params:  simulation.WienerParams(uint32(i+1), tt.horizon, 256, 20000),
			})

			simulation.AssertCompleted(t, result)
			simulation.AssertMeanZScore(t, result, 5)
			simulation.AssertVarianceWithin(t, result, tt.horizon, 0.05)
			if math.Abs(float64(result.Theory.Variance)-tt.horizon) > 1e-12 {
				t.Errorf("theory variance = %v, want %v", result.Theory.Variance, tt.horizon)
			}
		})
	}
}

func TestGBMWithDrift(t *testing.T) {
	r := simulation.NewRunner(t)

	p := simulation.GBMParams(9, 50, 0.3, 0.4, 2, 30000)
	p.Steps = 32
	result := r.Run(simulation.Scenario{
		Name:    "gbm-drift",
		Process: models.ProcessGBM,
		Params:  p,
	})

	simulation.AssertCompleted(t, result)
	simulation.AssertMeanZScore(t, result, 5)
	// Var[log S(T)] = sigma^2 T
	simulation.AssertLogVarianceWithin(t, result, 0.32, 0.05)

	logs := simulation.LogSamples(result.Samples)
	logMean, _ := simulation.SampleMoments(logs)
	want := math.Log(50) + (0.3-0.5*0.16)*2
	if se := 0.4 * math.Sqrt(2) / math.Sqrt(30000); math.Abs(logMean-want) > 5*se {
		t.Errorf("mean of log S(T) = %.6g, want %.6g +/- %.3g", logMean, want, 5*se)
	}
}

// TestSteppedAndTerminalAgree checks that sampling GBM directly at T gives
// the same terminal law as stepping it.
func TestSteppedAndTerminalAgree(t *testing.T) {
	r := simulation.NewRunner(t)

	p := simulation.GBMParams(3, 100, 0.08, 0.2, 1, 40000)
	p.Steps = 50
	stepped := r.Run(simulation.Scenario{Name: "stepped", Process: models.ProcessGBM, Params: p})

	p.Seed = 4
	terminal := r.Run(simulation.Scenario{Name: "terminal", Process: models.ProcessGBMTerminal, Params: p})

	simulation.AssertCompleted(t, stepped)
	simulation.AssertCompleted(t, terminal)
	if stepped.Theory != terminal.Theory {
		t.Errorf("theory differs: stepped %+v, terminal %+v", stepped.Theory, terminal.Theory)
	}
	if terminal.TotalSteps != int64(p.Paths) {
		t.Errorf("terminal run took %d steps, want one per path (%d)", terminal.TotalSteps, p.Paths)
	}
	if stepped.TotalSteps != int64(p.Paths*p.Steps) {
		t.Errorf("stepped run took %d steps, want %d", stepped.TotalSteps, p.Paths*p.Steps)
	}

	m1, v1 := simulation.SampleMoments(stepped.Samples)
	m2, v2 := simulation.SampleMoments(terminal.Samples)
	se := math.Sqrt(v1/float64(len(stepped.Samples)) + v2/float64(len(terminal.Samples)))
	if math.Abs(m1-m2) > 5*se {
		t.Errorf("means differ: stepped %.6g, terminal %.6g (se %.3g)", m1, m2, se)
	}

	_, lv1 := simulation.SampleMoments(simulation.LogSamples(stepped.Samples))
	_, lv2 := simulation.SampleMoments(simulation.LogSamples(terminal.Samples))
	if math.Abs(lv1-lv2) > 0.05*0.04 {
		t.Errorf("log variances differ: stepped %.6g, terminal %.6g", lv1, lv2)
	}
}

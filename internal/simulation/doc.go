// Package simulation provides a scenario test harness for validating the
// statistical behaviour of complete runs.
//
// The harness exercises the real Engine, Simulator and Aggregate with no
// mocks. A Scenario names a process and its parameters, optionally a tick
// cadence that replays wall-clock jitter, and hooks that poke the engine
// between ticks (pause, resume, rate changes, resets). The Runner plays the
// scenario to completion and captures the terminal sample together with
// checkpoints for property-based assertions.
//
// Each test gets a sandboxed HOME, and the run trace is written to a
// temporary directory so it can be inspected on failure.
//
// Usage:
//
//	func TestGBMMean(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:    "gbm-mean",
//	        Process: models.ProcessGBM,
//	        Params:  simulation.GBMParams(0, 100, 0, 0.2, 1, 5000),
//	    })
//	    simulation.AssertMeanWithin(t, result, 100, 0.02)
//	}
package simulation

package simulation

import (
	"context"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/playback"
)

const defaultMaxTicks = 10_000_000

// Runner executes simulation scenarios against a sandboxed environment.
type Runner struct {
	t        *testing.T
	eventDir string
	events   *logging.EventLogger
}

// NewRunner creates a Runner with a sandboxed HOME and a run trace in a
// temporary directory. Cleanup is registered via t.Cleanup.
func NewRunner(t *testing.T) *Runner {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	dir := filepath.Join(t.TempDir(), "events")
	events := logging.NewEventLogger(dir, "debug")
	t.Cleanup(events.Close)

	return &Runner{t: t, eventDir: dir, events: events}
}

// EventsPath returns the run trace file shared by every scenario this
// Runner plays.
func (r *Runner) EventsPath() string {
	return filepath.Join(r.eventDir, logging.EventsFile)
}

// Run plays a scenario to completion and returns its result. Setup failures
// are fatal; a run that stops on an engine error is reported in Result.Err.
func (r *Runner) Run(s Scenario) Result {
	r.t.Helper()

	e, err := playback.NewEngine(s.Process, s.Params, playback.Options{
		Rate:       s.Rate,
		MaxPerTick: s.MaxPerTick,
		Logger:     logging.NewLogger("debug", testWriter{r.t}),
		Events:     r.events,
	})
	if err != nil {
		r.t.Fatalf("scenario %s: NewEngine: %v", s.Name, err)
	}

	result := Result{Scenario: s, Engine: e}
	if len(s.Cadence) == 0 && len(s.Checkpoints) == 0 {
		result.Err = playback.RunHeadless(context.Background(), e)
	} else {
		result.Err = r.play(s, e, &result)
	}

	result.Samples = e.Samples()
	result.Summary = e.Aggregate().Summary()
	result.Theory = montecarlo.Theory(s.Process, s.Params)
	result.TotalSteps = e.TotalSteps()
	result.Mode = e.Mode()

	if s.Loss != nil {
		result.Decision, err = decision.Analyze(result.Samples, *s.Loss, s.GridPoints)
		if err != nil {
			r.t.Fatalf("scenario %s: Analyze: %v", s.Name, err)
		}
	}
	return result
}

// play drives e tick by tick until it goes Idle or MaxTicks is reached.
func (r *Runner) play(s Scenario, e *playback.Engine, result *Result) error {
	if err := e.Start(); err != nil {
		return err
	}

	cadence := s.Cadence
	if len(cadence) == 0 {
		cadence = []time.Duration{HeadlessTick(e)}
	}
	checkpoints := slices.Clone(s.Checkpoints)
	slices.Sort(checkpoints)
	maxTicks := s.MaxTicks
	if maxTicks <= 0 {
		maxTicks = defaultMaxTicks
	}

	next := 0
	for tick := 0; tick < maxTicks; tick++ {
		if s.BeforeTick != nil {
			s.BeforeTick(tick, e)
		}
		if e.Mode() == playback.ModeIdle {
			return nil
		}

		_, err := e.Tick(cadence[tick%len(cadence)])
		result.Ticks = tick + 1
		for next < len(checkpoints) && e.N() >= checkpoints[next] {
			result.Checkpoints = append(result.Checkpoints, Checkpoint{
				Tick:           tick,
				N:              e.N(),
				TotalSteps:     e.TotalSteps(),
				GeneratorState: e.GeneratorState(),
				Summary:        e.Aggregate().Summary(),
			})
			next++
		}
		if err != nil {
			return err
		}
	}
	r.t.Logf("scenario %s: stopped after %d ticks in mode %v", s.Name, maxTicks, e.Mode())
	return nil
}

// HeadlessTick returns the elapsed time that pays for exactly MaxPerTick
// units at the engine's current rate.
func HeadlessTick(e *playback.Engine) time.Duration {
	ns := math.Ceil(float64(e.MaxPerTick()) * float64(time.Second) / e.Rate())
	switch {
	case ns >= float64(math.MaxInt64/2):
		return time.Duration(math.MaxInt64 / 2)
	case ns < 1:
		return 1
	}
	return time.Duration(ns)
}

// testWriter routes log output to t.Log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

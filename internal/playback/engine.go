// Package playback advances a simulation at a configurable rate from an
// external clock, independent of how often that clock fires.
//
// An Engine owns one simulator and one aggregate. It is single-owner: every
// method must be called from the same goroutine, or through a Driver, which
// serializes commands and ticks onto one goroutine. Independent engines share
// nothing and may run concurrently.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/sde"
)

// ErrFaulted is returned by Start while a fatal error from an earlier tick is
// still held. Reset clears it.
var ErrFaulted = errors.New("playback: run stopped on error, reset required")

// Mode is the scheduler state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRunning
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRunning:
		return "running"
	case ModePaused:
		return "paused"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*m = ModeIdle
	case "running":
		*m = ModeRunning
	case "paused":
		*m = ModePaused
	default:
		return fmt.Errorf("unknown mode %q", text)
	}
	return nil
}

// Options configure an Engine. The zero value is usable.
type Options struct {
	// Rate is steps per second, or paths per second for
	// models.ProcessGBMTerminal. Zero means constants.DefaultRate.
	Rate float64

	// MaxPerTick caps the units advanced by one Tick. Zero means
	// constants.MaxStepsPerTick, or constants.MaxPathsPerTick in terminal mode.
	MaxPerTick int

	Logger   *slog.Logger
	Events   *logging.EventLogger
	Observer Observer

	// NewRunID generates run identifiers. Defaults to uuid.NewString.
	NewRunID func() string
}

// TickResult reports the work one Tick did.
type TickResult struct {
	Steps    int  `json:"steps"`    // whole steps taken
	Emitted  int  `json:"emitted"`  // paths completed and ingested
	Mode     Mode `json:"mode"`     // mode after the tick
	Finished bool `json:"finished"` // the run reached its target on this tick
}

// Engine is the live state of one run: generator, in-progress path,
// aggregate and schedule.
type Engine struct {
	process models.Process
	params  models.Params

	sim *sde.Simulator
	agg *montecarlo.Aggregate

	mode       Mode
	rate       float64
	maxPerTick int
	accMs      float64 // elapsed time not yet converted into steps
	err        error
	runID      string
	totalSteps int64

	logger   *slog.Logger
	events   *logging.EventLogger
	observer Observer
	newRunID func() string
}

// NewEngine validates the parameters and returns an Idle engine.
func NewEngine(process models.Process, params models.Params, opts Options) (*Engine, error) {
	sim, err := sde.New(process, params)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		process:    process,
		params:     params,
		sim:        sim,
		agg:        montecarlo.New(process, params),
		rate:       opts.Rate,
		maxPerTick: opts.MaxPerTick,
		logger:     opts.Logger,
		events:     opts.Events,
		observer:   opts.Observer,
		newRunID:   opts.NewRunID,
	}
	if e.rate == 0 {
		e.rate = constants.DefaultRate
	}
	if err := validateRate(e.rate); err != nil {
		return nil, err
	}
	if e.maxPerTick <= 0 {
		e.maxPerTick = constants.MaxStepsPerTick
		if process == models.ProcessGBMTerminal {
			e.maxPerTick = constants.MaxPathsPerTick
		}
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.newRunID == nil {
		e.newRunID = uuid.NewString
	}
	e.runID = e.newRunID()
	return e, nil
}

func validateRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return &models.ParamError{Field: "rate", Value: rate, Reason: "must be a positive finite number"}
	}
	return nil
}

// Start moves Idle or Paused to Running and restarts the elapsed-time
// reference. Simulation state is untouched. Starting a finished run does
// nothing; starting a faulted run returns ErrFaulted.
func (e *Engine) Start() error {
	if e.err != nil {
		return fmt.Errorf("%w: %w", ErrFaulted, e.err)
	}
	if e.mode == ModeRunning || e.sim.Done() {
		return nil
	}
	e.accMs = 0
	e.transition(ModeRunning, "start")
	return nil
}

// Pause moves Running to Paused. It is a no-op in any other mode.
func (e *Engine) Pause() {
	if e.mode != ModeRunning {
		return
	}
	e.transition(ModePaused, "pause")
}

// Reset returns to Idle with an empty path and aggregate, a reseeded
// generator and no held error. The run gets a new ID.
func (e *Engine) Reset() {
	e.sim.Reset()
	e.agg.Reset()
	e.accMs = 0
	e.err = nil
	e.totalSteps = 0
	if e.mode != ModeIdle {
		e.transition(ModeIdle, "reset")
	} else {
		e.record("reset")
	}
	e.runID = e.newRunID()
}

// SetRate changes the playback rate without resetting the run. Time already
// accumulated is converted at the new rate.
func (e *Engine) SetRate(rate float64) error {
	if err := validateRate(rate); err != nil {
		return err
	}
	e.rate = rate
	e.logger.Debug("rate changed", "run", e.runID, "rate", rate)
	e.events.Record(logging.RunEvent{RunID: e.runID, Event: "rate", Process: string(e.process), Rate: rate})
	return nil
}

// Tick feeds elapsed wall time to a Running engine and advances the
// simulation by the whole steps that time pays for, at most MaxPerTick.
// Leftover time carries over to the next tick. In any other mode Tick does
// nothing.
//
// A computation error stops the run: the engine goes Idle, keeps the error
// until Reset and returns it.
func (e *Engine) Tick(elapsed time.Duration) (TickResult, error) {
	if e.mode != ModeRunning {
		return TickResult{Mode: e.mode}, nil
	}
	if elapsed > 0 {
		e.accMs += float64(elapsed) / float64(time.Millisecond)
	}

	due := math.Floor(e.accMs * e.rate / 1000)
	n := e.maxPerTick
	if due < float64(n) {
		n = int(due)
	}

	var res TickResult
	if n > 0 {
		taken, err := e.sim.Advance(n, func(v float64) {
			e.agg.Ingest(v)
			res.Emitted++
		})
		res.Steps = taken
		e.totalSteps += int64(taken)
		e.accMs -= float64(taken) * 1000 / e.rate
		if err != nil {
			e.fail(err)
			res.Mode = e.mode
			e.observer.ObserveTick(e.process, res)
			return res, err
		}
	}

	if e.sim.Done() {
		res.Finished = true
		e.transition(ModeIdle, "finish")
	}
	res.Mode = e.mode

	if e.logger.Enabled(context.Background(), logging.LevelTrace) {
		e.logger.Log(context.Background(), logging.LevelTrace, "tick",
			"run", e.runID, "steps", res.Steps, "emitted", res.Emitted,
			"samples", e.agg.N(), "carry_ms", e.accMs)
	}
	e.observer.ObserveTick(e.process, res)
	return res, nil
}

func (e *Engine) fail(err error) {
	e.err = err
	e.logger.Error("simulation failed", "run", e.runID, "process", e.process, "error", err)
	e.observer.ObserveError(e.process, err)
	e.events.Record(logging.RunEvent{
		RunID:   e.runID,
		Event:   "error",
		Process: string(e.process),
		Samples: e.agg.N(),
		Steps:   e.totalSteps,
		Error:   err.Error(),
	})
	e.mode = ModeIdle
	e.accMs = 0
	e.observer.ObserveTransition(e.process, ModeRunning, ModeIdle)
}

func (e *Engine) transition(to Mode, event string) {
	from := e.mode
	e.mode = to
	e.logger.Debug("mode transition", "run", e.runID, "event", event, "from", from, "to", to)
	e.observer.ObserveTransition(e.process, from, to)
	e.record(event)
}

func (e *Engine) record(event string) {
	e.events.Record(logging.RunEvent{
		RunID:   e.runID,
		Event:   event,
		Process: string(e.process),
		Mode:    e.mode.String(),
		Samples: e.agg.N(),
		Steps:   e.totalSteps,
		Rate:    e.rate,
	})
}

// Mode returns the scheduler state.
func (e *Engine) Mode() Mode { return e.mode }

// Rate returns the playback rate.
func (e *Engine) Rate() float64 { return e.rate }

// MaxPerTick returns the per-tick work cap.
func (e *Engine) MaxPerTick() int { return e.maxPerTick }

// Err returns the fatal error held since the last Reset, if any.
func (e *Engine) Err() error { return e.err }

// RunID identifies the current run. It changes on Reset.
func (e *Engine) RunID() string { return e.runID }

// Process returns the simulated process.
func (e *Engine) Process() models.Process { return e.process }

// Params returns the run parameters.
func (e *Engine) Params() models.Params { return e.params }

// Complete reports whether the run reached its target sample count.
func (e *Engine) Complete() bool { return e.sim.Done() }

// N returns the number of ingested terminal values.
func (e *Engine) N() int { return e.agg.N() }

// TotalSteps returns the steps taken since the last Reset.
func (e *Engine) TotalSteps() int64 { return e.totalSteps }

// GeneratorState returns the simulator's generator state.
func (e *Engine) GeneratorState() uint32 { return e.sim.GeneratorState() }

// PathState returns the in-progress path state.
func (e *Engine) PathState() sde.PathState { return e.sim.State() }

// Samples returns a copy of the terminal values in completion order.
func (e *Engine) Samples() []float64 { return e.agg.Samples() }

// Aggregate exposes the aggregate for read-only queries.
func (e *Engine) Aggregate() *montecarlo.Aggregate { return e.agg }

// Simulator exposes the simulator for read-only queries.
func (e *Engine) Simulator() *sde.Simulator { return e.sim }

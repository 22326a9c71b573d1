package simulation

import (
	"time"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/playback"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name    string
	Process models.Process
	Params  models.Params

	// Rate and MaxPerTick are passed to the engine; zero picks its defaults.
	Rate       float64
	MaxPerTick int

	// Cadence, when non-empty, is the sequence of elapsed times fed to Tick,
	// repeated until the run ends. When empty the run is played headless.
	Cadence []time.Duration

	// Checkpoints are sample counts at which the aggregate is snapshotted.
	// A checkpoint is taken on the first tick that reaches its count.
	Checkpoints []int

	// BeforeTick, when non-nil, is called before each tick with its index.
	// Use it to pause, resume, reset or change the rate mid-run. It is only
	// called when Cadence is set.
	BeforeTick func(tick int, e *playback.Engine)

	// MaxTicks bounds a cadence run. Zero means 10 million.
	MaxTicks int

	// Loss, when non-nil, is analysed against the final sample.
	Loss       *decision.Loss
	GridPoints int
}

// Checkpoint captures the aggregate at one point of the run.
type Checkpoint struct {
	Tick           int
	N              int
	TotalSteps     int64
	GeneratorState uint32
	Summary        montecarlo.Summary
}

// Result captures the final engine state of a scenario.
type Result struct {
	Scenario    Scenario
	Samples     []float64
	Summary     montecarlo.Summary
	Theory      montecarlo.Moments
	Checkpoints []Checkpoint
	Ticks       int
	TotalSteps  int64
	Mode        playback.Mode
	Err         error
	Decision    *decision.Result
	Engine      *playback.Engine
}

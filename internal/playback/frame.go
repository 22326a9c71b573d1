package playback

import (
	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/sde"
)

// FrameOptions select the optional parts of a Frame.
type FrameOptions struct {
	Bins int         // histogram bins; zero picks the process default
	View models.View // histogram coordinate for GBM

	Background bool // include archived trajectories
	Terminals  bool // include every terminal value
	Reference  bool // include the theoretical density on the histogram domain
	Decompose  bool // include the GBM drift/diffusion split
	Envelope   bool // include the theoretical band on the step grid
}

// Frame is a self-contained copy of everything a renderer needs at one
// instant. It shares no memory with the engine.
type Frame struct {
	RunID   string         `json:"run_id"`
	Process models.Process `json:"process"`
	Params  models.Params  `json:"params"`
	Mode    Mode           `json:"mode"`
	Rate    float64        `json:"rate"`

	Step         int   `json:"step"` // K of the in-progress path
	StepsPerPath int   `json:"steps_per_path"`
	Completed    int   `json:"completed"`
	Target       int   `json:"target"`
	TotalSteps   int64 `json:"total_steps"`
	Finished     bool  `json:"finished"`

	Path       []models.Point     `json:"path"`
	Background [][]models.Point   `json:"background,omitempty"`
	Terminals  []float64          `json:"terminals,omitempty"`
	Summary    montecarlo.Summary `json:"summary"`
	Theory     montecarlo.Moments `json:"theory"`
	Histogram  []models.Bin       `json:"histogram"`
	Reference  []models.Point     `json:"reference,omitempty"`
	Drift      []models.Point     `json:"drift,omitempty"`
	Diffusion  []models.Point     `json:"diffusion,omitempty"`
	Envelope   *sde.Band          `json:"envelope,omitempty"`

	Error string `json:"error,omitempty"`
}

// DefaultBins is the histogram bin count used for process when none is given.
func DefaultBins(process models.Process) int {
	if process.LogDomain() {
		return constants.DefaultTerminalBins
	}
	return constants.DefaultWienerBins
}

// Frame snapshots the engine.
func (e *Engine) Frame(opts FrameOptions) Frame {
	bins := opts.Bins
	if bins <= 0 {
		bins = DefaultBins(e.process)
	}
	view := opts.View
	if view == "" {
		view = models.ViewLinear
	}

	f := Frame{
		RunID:        e.runID,
		Process:      e.process,
		Params:       e.params,
		Mode:         e.mode,
		Rate:         e.rate,
		Step:         e.sim.State().K,
		StepsPerPath: e.sim.StepsPerPath(),
		Completed:    e.agg.N(),
		Target:       e.params.Paths,
		TotalSteps:   e.totalSteps,
		Finished:     e.sim.Done(),
		Path:         e.sim.Path(),
		Summary:      e.agg.Summary(),
		Theory:       montecarlo.Theory(e.process, e.params),
		Histogram:    e.agg.Histogram(bins, view),
	}
	if e.err != nil {
		f.Error = e.err.Error()
	}
	if opts.Background {
		for _, p := range e.sim.Background() {
			f.Background = append(f.Background, append([]models.Point(nil), p...))
		}
	}
	if opts.Terminals {
		f.Terminals = e.agg.Samples()
	}
	if opts.Reference {
		f.Reference = e.agg.Reference(view, constants.DefaultReferencePoints)
	}
	if opts.Decompose {
		f.Drift, f.Diffusion = e.sim.Decompose()
	}
	if opts.Envelope && e.process != models.ProcessGBMTerminal {
		if band, err := sde.Envelope(e.process, e.params); err == nil {
			f.Envelope = &band
		}
	}
	return f
}

// Package sde integrates Wiener and geometric Brownian motion paths one
// discretised step at a time.
//
// A Simulator owns its generator, the in-progress path and the archive of
// finished background trajectories. It is driven by Advance, which never
// performs a partial step. Terminal values are handed to the caller through
// an emit callback as each path completes.
package sde

import (
	"math"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/rng"
)

// PathState is the live state of the path being integrated.
type PathState struct {
	K             int     `json:"k"`              // steps taken on this path, 0..steps
	W             float64 `json:"w"`              // cumulative Brownian motion W(t_k)
	LogS          float64 `json:"log_s"`          // log S(t_k); GBM only
	S             float64 `json:"s"`              // S(t_k); GBM only
	LastIncrement float64 `json:"last_increment"` // dW of the latest step
}

// Simulator integrates one process for a fixed set of parameters.
// It is not safe for concurrent use.
type Simulator struct {
	process models.Process
	params  models.Params

	gen    *rng.Mulberry32
	normal *rng.Normal

	state      PathState
	path       []models.Point // (t, value) of the in-progress path
	wiener     []float64      // W(t_k) of the in-progress path, for decomposition
	background [][]models.Point
	completed  int
	done       bool
}

// New returns a simulator for process with params. The parameters are
// validated here; numeric failures that only surface while stepping are
// reported by Advance.
func New(process models.Process, params models.Params) (*Simulator, error) {
	if _, err := models.ParseProcess(string(process)); err != nil {
		return nil, &models.ParamError{Field: "process", Value: string(process), Reason: "is not a known process"}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		process: process,
		params:  params,
		gen:     rng.NewMulberry32(params.Seed),
	}
	s.normal = rng.NewNormal(s.gen)
	s.Reset()
	return s, nil
}

// Reset reseeds the generator and discards every path, returning the
// simulator to the state New produced.
func (s *Simulator) Reset() {
	s.gen.Seed(s.params.Seed)
	s.background = nil
	s.completed = 0
	s.done = false
	s.startPath()
}

func (s *Simulator) startPath() {
	s.state = PathState{}
	if s.process.LogDomain() {
		s.state.S = s.params.S0
		s.state.LogS = math.Log(s.params.S0)
	}
	s.path = append(s.path[:0], models.Point{X: 0, Y: s.value()})
	s.wiener = append(s.wiener[:0], 0)
}

// value is the quantity the current process reports: W for Wiener, S for GBM.
func (s *Simulator) value() float64 {
	if s.process.LogDomain() {
		return s.state.S
	}
	return s.state.W
}

// stepsPerPath is the number of Advance units one path consumes.
func (s *Simulator) stepsPerPath() int {
	if s.process == models.ProcessGBMTerminal {
		return 1
	}
	return s.params.Steps
}

// stepSize is the time increment of one Advance unit.
func (s *Simulator) stepSize() float64 {
	if s.process == models.ProcessGBMTerminal {
		return s.params.T
	}
	return s.params.Dt()
}

// Advance performs up to n whole steps and returns how many it took. When a
// path reaches its final step its terminal value is passed to emit. A new path
// is then started if the target count has not been reached; otherwise the
// simulator is done and further calls return 0.
//
// In ProcessGBMTerminal mode one step is one complete path.
//
// A step that would produce a non-finite value, or a non-positive S for GBM,
// fails with an error wrapping models.ErrComputation; the path state is left
// as it was before that step.
func (s *Simulator) Advance(n int, emit func(float64)) (int, error) {
	taken := 0
	for taken < n && !s.done {
		if err := s.step(); err != nil {
			return taken, err
		}
		taken++

		if s.state.K < s.stepsPerPath() {
			continue
		}

		terminal := s.value()
		s.completed++
		if s.process != models.ProcessGBMTerminal && len(s.background) < constants.MaxBackgroundPaths {
			s.background = append(s.background, append([]models.Point(nil), s.path...))
		}
		if emit != nil {
			emit(terminal)
		}
		if s.completed >= s.params.Paths {
			s.done = true
			break
		}
		s.startPath()
	}
	return taken, nil
}

func (s *Simulator) step() error {
	dt := s.stepSize()
	next := s.state.K + 1
	if !(dt > 0) || math.IsInf(dt, 0) {
		return s.fail(next, "dt", dt)
	}

	dw := math.Sqrt(dt) * s.normal.StandardNormal()
	w := s.state.W + dw
	if !finite(w) {
		return s.fail(next, "W", w)
	}

	logS, value := 0.0, w
	if s.process.LogDomain() {
		drift := (s.params.Mu - 0.5*s.params.Sigma*s.params.Sigma) * dt
		logS = s.state.LogS + drift + s.params.Sigma*dw
		if !finite(logS) {
			return s.fail(next, "logS", logS)
		}
		value = math.Exp(logS)
		if !finite(value) || value <= 0 {
			return s.fail(next, "S", value)
		}
	}

	s.state.K = next
	s.state.W = w
	s.state.LastIncrement = dw
	if s.process.LogDomain() {
		s.state.LogS = logS
		s.state.S = value
	}

	t := s.params.T
	if s.process != models.ProcessGBMTerminal {
		t = float64(next) * dt
	}
	s.path = append(s.path, models.Point{X: t, Y: value})
	s.wiener = append(s.wiener, w)
	return nil
}

func (s *Simulator) fail(step int, quantity string, v float64) error {
	return &models.StepError{
		Path:     s.completed,
		Step:     step,
		Value:    v,
		Quantity: quantity,
		Wrapped:  models.ErrComputation,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Done reports whether the target number of paths has been produced.
func (s *Simulator) Done() bool { return s.done }

// Completed returns the number of finished paths.
func (s *Simulator) Completed() int { return s.completed }

// State returns a copy of the in-progress path state.
func (s *Simulator) State() PathState { return s.state }

// GeneratorState returns the generator's current 32-bit state.
func (s *Simulator) GeneratorState() uint32 { return s.gen.State() }

// Process returns the integrated process.
func (s *Simulator) Process() models.Process { return s.process }

// Params returns the run parameters.
func (s *Simulator) Params() models.Params { return s.params }

// StepsPerPath returns how many Advance units make up one path.
func (s *Simulator) StepsPerPath() int { return s.stepsPerPath() }

// Path returns a copy of the in-progress path as (t, value) points, starting
// at (0, initial value).
func (s *Simulator) Path() []models.Point {
	return append([]models.Point(nil), s.path...)
}

// Background returns the archived trajectories of the first completed paths,
// at most constants.MaxBackgroundPaths of them. The slices must not be
// modified.
func (s *Simulator) Background() [][]models.Point {
	return s.background
}

// Decompose splits log S(t_k) - log S0 of the in-progress GBM path into its
// cumulative drift (mu - sigma^2/2) t_k and diffusion sigma W(t_k). It returns
// nil slices for the Wiener process.
func (s *Simulator) Decompose() (drift, diffusion []models.Point) {
	if !s.process.LogDomain() {
		return nil, nil
	}
	a := s.params.Mu - 0.5*s.params.Sigma*s.params.Sigma
	drift = make([]models.Point, len(s.path))
	diffusion = make([]models.Point, len(s.path))
	for i, p := range s.path {
		drift[i] = models.Point{X: p.X, Y: a * p.X}
		diffusion[i] = models.Point{X: p.X, Y: s.params.Sigma * s.wiener[i]}
	}
	return drift, diffusion
}

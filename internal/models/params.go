package models

import (
	"fmt"
	"math"

	"github.com/nvandessel/stochsim/internal/constants"
)

// Process identifies which stochastic process a simulator integrates.
type Process string

const (
	ProcessWiener      Process = "wiener"       // standard Brownian motion W(t)
	ProcessGBM         Process = "gbm"          // geometric Brownian motion, stepped in log space
	ProcessGBMTerminal Process = "gbm-terminal" // GBM sampled directly at T, one draw per path
)

// ParseProcess maps a process name to a Process.
func ParseProcess(s string) (Process, error) {
	switch Process(s) {
	case ProcessWiener, ProcessGBM, ProcessGBMTerminal:
		return Process(s), nil
	default:
		return "", fmt.Errorf("unknown process %q (valid: wiener, gbm, gbm-terminal)", s)
	}
}

// LogDomain reports whether the process lives in log space, which decides the
// coordinate used for histogram domains.
func (p Process) LogDomain() bool {
	return p == ProcessGBM || p == ProcessGBMTerminal
}

// Params is the immutable input of one simulation run. Changing any field
// means starting a new run.
type Params struct {
	// S0 is the initial level of a GBM path. Unused by the Wiener process.
	S0 float64 `json:"s0" yaml:"s0"`

	// Mu is the drift rate.
	Mu float64 `json:"mu" yaml:"mu"`

	// Sigma is the volatility.
	Sigma float64 `json:"sigma" yaml:"sigma"`

	// T is the horizon.
	T float64 `json:"t" yaml:"t"`

	// Steps is the number of increments per path.
	Steps int `json:"steps" yaml:"steps"`

	// Paths is the target sample count of the run.
	Paths int `json:"paths" yaml:"paths"`

	// Seed initialises the generator.
	Seed uint32 `json:"seed" yaml:"seed"`
}

// DefaultParams returns the parameters a fresh session starts with.
func DefaultParams() Params {
	return Params{
		S0:    constants.DefaultS0,
		Mu:    constants.DefaultMu,
		Sigma: constants.DefaultSigma,
		T:     constants.DefaultT,
		Steps: constants.DefaultSteps,
		Paths: constants.DefaultPaths,
		Seed:  constants.DefaultSeed,
	}
}

// Validate checks the parameter constraints. Callers are expected to clamp
// inputs before they get here; this is the last guard.
func (p Params) Validate() error {
	// NaN fails every comparison below, so "!(x > 0)" also rejects it.
	if !(p.S0 > 0) {
		return &ParamError{Field: "s0", Value: p.S0, Reason: "must be > 0"}
	}
	if math.IsNaN(p.Mu) || math.IsInf(p.Mu, 0) {
		return &ParamError{Field: "mu", Value: p.Mu, Reason: "must be finite"}
	}
	if !(p.Sigma >= 0) {
		return &ParamError{Field: "sigma", Value: p.Sigma, Reason: "must be >= 0"}
	}
	if !(p.T > 0) {
		return &ParamError{Field: "t", Value: p.T, Reason: "must be > 0"}
	}
	if p.Steps < 2 {
		return &ParamError{Field: "steps", Value: p.Steps, Reason: "must be >= 2"}
	}
	if p.Paths < 1 {
		return &ParamError{Field: "paths", Value: p.Paths, Reason: "must be >= 1"}
	}
	return nil
}

// Dt returns the step size T/steps.
func (p Params) Dt() float64 {
	return p.T / float64(p.Steps)
}

package mcp

import (
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/sde"
)

// statSchemas types models.Stat as a nullable number: undefined and
// overflowed statistics marshal to null.
var statSchemas = map[reflect.Type]*jsonschema.Schema{
	reflect.TypeFor[models.Stat](): {Types: []string{"null", "number"}},
}

// outputSchema infers a tool's output schema from its result type.
func outputSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](&jsonschema.ForOptions{TypeSchemas: statSchemas})
	if err != nil {
		panic(fmt.Sprintf("mcp: output schema: %v", err))
	}
	return s
}

// RunInput selects a process and its parameters. Omitted fields take the
// server's configured defaults.
type RunInput struct {
	Process string   `json:"process,omitempty" jsonschema:"Process: wiener, gbm or gbm-terminal"`
	S0      *float64 `json:"s0,omitempty" jsonschema:"Initial GBM level, > 0"`
	Mu      *float64 `json:"mu,omitempty" jsonschema:"Drift rate"`
	Sigma   *float64 `json:"sigma,omitempty" jsonschema:"Volatility, >= 0"`
	T       *float64 `json:"t,omitempty" jsonschema:"Horizon, > 0"`
	Steps   *int     `json:"steps,omitempty" jsonschema:"Increments per path, >= 2"`
	Paths   *int     `json:"paths,omitempty" jsonschema:"Number of paths to simulate"`
	Seed    *uint32  `json:"seed,omitempty" jsonschema:"Generator seed"`
}

// SimulateInput defines the input for the stochsim_simulate tool.
type SimulateInput struct {
	RunInput
	Bins int    `json:"bins,omitempty" jsonschema:"Histogram bins, 10 to 250"`
	View string `json:"view,omitempty" jsonschema:"Histogram coordinate for GBM: linear or log"`
}

// SimulateOutput defines the output for the stochsim_simulate tool.
type SimulateOutput struct {
	RunID          string             `json:"run_id" jsonschema:"Identifier of the run"`
	Process        models.Process     `json:"process"`
	Params         models.Params      `json:"params"`
	TotalSteps     int64              `json:"total_steps" jsonschema:"Steps integrated"`
	GeneratorState uint32             `json:"generator_state" jsonschema:"Generator state after the run"`
	Summary        montecarlo.Summary `json:"summary" jsonschema:"Terminal sample statistics"`
	Theory         montecarlo.Moments `json:"theory" jsonschema:"Closed-form terminal moments"`
	Histogram      []models.Bin       `json:"histogram" jsonschema:"Terminal histogram"`
}

// PathInput defines the input for the stochsim_path tool.
type PathInput struct {
	RunInput
	Decompose bool `json:"decompose,omitempty" jsonschema:"Include the GBM drift and diffusion split"`
	Envelope  bool `json:"envelope,omitempty" jsonschema:"Include the theoretical mean and one-sigma band"`
}

// PathOutput defines the output for the stochsim_path tool.
type PathOutput struct {
	Process   models.Process `json:"process"`
	Params    models.Params  `json:"params"`
	Path      []models.Point `json:"path" jsonschema:"(t, value) points of the first path"`
	Terminal  float64        `json:"terminal" jsonschema:"Value at T"`
	Drift     []models.Point `json:"drift,omitempty"`
	Diffusion []models.Point `json:"diffusion,omitempty"`
	Envelope  *sde.Band      `json:"envelope,omitempty"`
}

// DecideInput defines the input for the stochsim_decide tool.
type DecideInput struct {
	RunInput
	Loss       string   `json:"loss,omitempty" jsonschema:"Loss family: squared, absolute or pinball"`
	Tau        *float64 `json:"tau,omitempty" jsonschema:"Pinball quantile level in (0, 1)"`
	GridPoints int      `json:"grid_points,omitempty" jsonschema:"Candidate decisions on the grid"`
}

// DecideOutput defines the output for the stochsim_decide tool.
type DecideOutput struct {
	RunID  string           `json:"run_id"`
	Result *decision.Result `json:"result" jsonschema:"Expected-loss curve and minimisers"`
	Agrees bool             `json:"agrees" jsonschema:"Whether the grid minimiser is within one cell of the closed form"`
}

// TheoryInput defines the input for the stochsim_theory tool.
type TheoryInput struct {
	RunInput
}

// TheoryOutput defines the output for the stochsim_theory tool.
type TheoryOutput struct {
	Process  models.Process     `json:"process"`
	Params   models.Params      `json:"params"`
	Moments  montecarlo.Moments `json:"moments"`
	Envelope *sde.Band          `json:"envelope,omitempty"`
}

// ExportInput defines the input for the stochsim_export tool.
type ExportInput struct {
	RunInput
	Dataset    string   `json:"dataset" jsonschema:"Dataset: paths, terminals, histogram or loss"`
	Bins       int      `json:"bins,omitempty" jsonschema:"Histogram bins, 10 to 250"`
	View       string   `json:"view,omitempty" jsonschema:"Histogram coordinate for GBM: linear or log"`
	Loss       string   `json:"loss,omitempty" jsonschema:"Loss family for the loss dataset"`
	Tau        *float64 `json:"tau,omitempty" jsonschema:"Pinball quantile level in (0, 1)"`
	GridPoints int      `json:"grid_points,omitempty" jsonschema:"Candidate decisions for the loss dataset"`
	Path       string   `json:"path,omitempty" jsonschema:"File name inside the export directory; omitted names are generated"`
}

// ExportOutput defines the output for the stochsim_export tool.
type ExportOutput struct {
	RunID   string   `json:"run_id"`
	Dataset string   `json:"dataset"`
	Path    string   `json:"path" jsonschema:"Where the Arrow IPC stream was written"`
	Rows    int      `json:"rows"`
	Deleted []string `json:"deleted,omitempty" jsonschema:"Older archived streams removed by retention"`
}

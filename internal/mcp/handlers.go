package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/export"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/pathutil"
	"github.com/nvandessel/stochsim/internal/playback"
	"github.com/nvandessel/stochsim/internal/ratelimit"
	"github.com/nvandessel/stochsim/internal/sde"
)

// Bounds on the work one tool call may request.
const (
	MaxToolPaths = 200_000
	MaxToolWork  = 20_000_000 // steps x paths
)

// registerTools registers all stochsim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:         "stochsim_simulate",
		Description:  "Run a Monte Carlo simulation of a Wiener or GBM process to completion and summarize the terminal distribution",
		OutputSchema: outputSchema[SimulateOutput](),
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:         "stochsim_path",
		Description:  "Simulate a single path and return its points, optionally with the GBM drift/diffusion split and theoretical band",
		OutputSchema: outputSchema[PathOutput](),
	}, s.handlePath)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:         "stochsim_decide",
		Description:  "Simulate terminal values and find the decision minimising expected squared, absolute or pinball loss",
		OutputSchema: outputSchema[DecideOutput](),
	}, s.handleDecide)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:         "stochsim_theory",
		Description:  "Return closed-form terminal moments and the theoretical band without simulating",
		OutputSchema: outputSchema[TheoryOutput](),
	}, s.handleTheory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:         "stochsim_export",
		Description:  "Run a simulation and write one dataset (paths, terminals, histogram or loss) as an Arrow IPC stream into the export directory",
		OutputSchema: outputSchema[ExportOutput](),
	}, s.handleExport)
}

// resolve merges in over the configured defaults and validates the result.
func (s *Server) resolve(in RunInput) (models.Process, models.Params, error) {
	sim := s.defaults.Simulation
	name := sim.Process
	if in.Process != "" {
		name = in.Process
	}
	process, err := models.ParseProcess(name)
	if err != nil {
		return "", models.Params{}, err
	}

	p := sim.Params
	if in.S0 != nil {
		p.S0 = *in.S0
	}
	if in.Mu != nil {
		p.Mu = *in.Mu
	}
	if in.Sigma != nil {
		p.Sigma = *in.Sigma
	}
	if in.T != nil {
		p.T = *in.T
	}
	if in.Steps != nil {
		p.Steps = *in.Steps
	}
	if in.Paths != nil {
		p.Paths = *in.Paths
	}
	if in.Seed != nil {
		p.Seed = *in.Seed
	}
	if err := p.Validate(); err != nil {
		return "", models.Params{}, err
	}

	steps := p.Steps
	if process == models.ProcessGBMTerminal {
		steps = 1
	}
	if p.Paths > MaxToolPaths {
		return "", models.Params{}, &models.ParamError{Field: "paths", Value: p.Paths, Reason: fmt.Sprintf("must be <= %d", MaxToolPaths)}
	}
	if int64(steps)*int64(p.Paths) > MaxToolWork {
		return "", models.Params{}, &models.ParamError{Field: "steps", Value: p.Steps, Reason: fmt.Sprintf("steps x paths must be <= %d", MaxToolWork)}
	}
	return process, p, nil
}

// run plays a fresh engine to completion on a virtual clock.
func (s *Server) run(ctx context.Context, process models.Process, p models.Params) (*playback.Engine, error) {
	e, err := playback.NewEngine(process, p, playback.Options{
		Rate:   s.defaults.Playback.Rate,
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := playback.RunHeadless(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func runParams(process models.Process, p models.Params) map[string]string {
	return map[string]string{
		"process": string(process),
		"steps":   strconv.Itoa(p.Steps),
		"paths":   strconv.Itoa(p.Paths),
		"seed":    strconv.FormatUint(uint64(p.Seed), 10),
	}
}

func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	var params map[string]string
	defer func() { s.auditTool("stochsim_simulate", start, retErr, params) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "stochsim_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	process, p, err := s.resolve(args.RunInput)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	params = runParams(process, p)

	viewName := args.View
	if viewName == "" {
		viewName = s.defaults.Histogram.View
	}
	view, ok := models.ParseView(viewName)
	if !ok {
		return nil, SimulateOutput{}, fmt.Errorf("invalid view: %s (valid: linear, log)", viewName)
	}
	bins := args.Bins
	if bins == 0 {
		bins = s.defaults.Histogram.Bins
	}

	e, err := s.run(ctx, process, p)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	frame := e.Frame(playback.FrameOptions{Bins: bins, View: view})

	return nil, SimulateOutput{
		RunID:          e.RunID(),
		Process:        process,
		Params:         p,
		TotalSteps:     e.TotalSteps(),
		GeneratorState: e.GeneratorState(),
		Summary:        frame.Summary,
		Theory:         frame.Theory,
		Histogram:      frame.Histogram,
	}, nil
}

func (s *Server) handlePath(ctx context.Context, req *sdk.CallToolRequest, args PathInput) (_ *sdk.CallToolResult, _ PathOutput, retErr error) {
	start := time.Now()
	var params map[string]string
	defer func() { s.auditTool("stochsim_path", start, retErr, params) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "stochsim_path"); err != nil {
		return nil, PathOutput{}, err
	}

	process, p, err := s.resolve(args.RunInput)
	if err != nil {
		return nil, PathOutput{}, err
	}
	p.Paths = 1
	params = runParams(process, p)

	sim, err := sde.New(process, p)
	if err != nil {
		return nil, PathOutput{}, err
	}
	var terminal float64
	if _, err := sim.Advance(sim.StepsPerPath(), func(v float64) { terminal = v }); err != nil {
		return nil, PathOutput{}, err
	}

	out := PathOutput{Process: process, Params: p, Path: sim.Path(), Terminal: terminal}
	if args.Decompose {
		out.Drift, out.Diffusion = sim.Decompose()
	}
	if args.Envelope && process != models.ProcessGBMTerminal {
		band, err := sde.Envelope(process, p)
		if err != nil {
			return nil, PathOutput{}, err
		}
		out.Envelope = &band
	}
	return nil, out, nil
}

func (s *Server) handleDecide(ctx context.Context, req *sdk.CallToolRequest, args DecideInput) (_ *sdk.CallToolResult, _ DecideOutput, retErr error) {
	start := time.Now()
	var params map[string]string
	defer func() { s.auditTool("stochsim_decide", start, retErr, params) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "stochsim_decide"); err != nil {
		return nil, DecideOutput{}, err
	}

	process, p, err := s.resolve(args.RunInput)
	if err != nil {
		return nil, DecideOutput{}, err
	}
	params = runParams(process, p)

	loss, err := s.loss(args.Loss, args.Tau)
	if err != nil {
		return nil, DecideOutput{}, err
	}
	params["loss"] = loss.String()

	grid := args.GridPoints
	if grid == 0 {
		grid = s.defaults.Decision.GridPoints
	}

	e, err := s.run(ctx, process, p)
	if err != nil {
		return nil, DecideOutput{}, err
	}
	res, err := decision.Analyze(e.Samples(), loss, grid)
	if err != nil {
		return nil, DecideOutput{}, err
	}
	return nil, DecideOutput{RunID: e.RunID(), Result: res, Agrees: res.Agrees()}, nil
}

func (s *Server) handleTheory(ctx context.Context, req *sdk.CallToolRequest, args TheoryInput) (_ *sdk.CallToolResult, _ TheoryOutput, retErr error) {
	start := time.Now()
	var params map[string]string
	defer func() { s.auditTool("stochsim_theory", start, retErr, params) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "stochsim_theory"); err != nil {
		return nil, TheoryOutput{}, err
	}

	process, p, err := s.resolve(args.RunInput)
	if err != nil {
		return nil, TheoryOutput{}, err
	}
	params = runParams(process, p)

	out := TheoryOutput{Process: process, Params: p, Moments: montecarlo.Theory(process, p)}
	if process != models.ProcessGBMTerminal {
		band, err := sde.Envelope(process, p)
		switch {
		case errors.Is(err, models.ErrComputation):
			// moments that overflow are already reported as null
		case err != nil:
			return nil, TheoryOutput{}, err
		default:
			out.Envelope = &band
		}
	}
	return nil, out, nil
}

// loss resolves a loss family over the configured defaults.
func (s *Server) loss(name string, tau *float64) (decision.Loss, error) {
	if name == "" {
		name = s.defaults.Decision.Loss
	}
	t := s.defaults.Decision.Tau
	if tau != nil {
		t = *tau
	}
	return decision.ParseLoss(name, t)
}

func (s *Server) handleExport(ctx context.Context, req *sdk.CallToolRequest, args ExportInput) (_ *sdk.CallToolResult, _ ExportOutput, retErr error) {
	start := time.Now()
	var params map[string]string
	defer func() { s.auditTool("stochsim_export", start, retErr, params) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "stochsim_export"); err != nil {
		return nil, ExportOutput{}, err
	}
	if s.exportDir == "" {
		return nil, ExportOutput{}, errors.New("exports are disabled: no export directory configured")
	}

	ds, err := export.ParseDataset(args.Dataset)
	if err != nil {
		return nil, ExportOutput{}, err
	}
	process, p, err := s.resolve(args.RunInput)
	if err != nil {
		return nil, ExportOutput{}, err
	}
	params = runParams(process, p)
	params["dataset"] = string(ds)

	opts := export.Options{Bins: args.Bins, GridPoints: args.GridPoints}
	if opts.Bins == 0 {
		opts.Bins = s.defaults.Histogram.Bins
	}
	if opts.GridPoints == 0 {
		opts.GridPoints = s.defaults.Decision.GridPoints
	}
	viewName := args.View
	if viewName == "" {
		viewName = s.defaults.Histogram.View
	}
	view, ok := models.ParseView(viewName)
	if !ok {
		return nil, ExportOutput{}, fmt.Errorf("invalid view: %s (valid: linear, log)", viewName)
	}
	opts.View = view
	if ds == export.DatasetLoss {
		if opts.Loss, err = s.loss(args.Loss, args.Tau); err != nil {
			return nil, ExportOutput{}, err
		}
	}

	policy, err := s.defaults.ExportPolicy()
	if err != nil {
		return nil, ExportOutput{}, err
	}

	e, err := s.run(ctx, process, p)
	if err != nil {
		return nil, ExportOutput{}, err
	}
	run, err := export.FromEngine(e, ds, opts)
	if err != nil {
		return nil, ExportOutput{}, err
	}

	name := args.Path
	if name == "" {
		name = export.ArchivePath("", ds, e.RunID(), time.Now())
	}
	path, err := pathutil.Confine(s.exportDir, name)
	if err != nil {
		return nil, ExportOutput{}, err
	}
	params["path"] = pathutil.Redact(path)

	if err := export.WriteFile(path, func(w io.Writer) error {
		return export.Write(w, nil, ds, run)
	}); err != nil {
		return nil, ExportOutput{}, err
	}

	deleted, err := export.ApplyRetention(s.exportDir, policy)
	if err != nil {
		s.logger.Warn("export retention failed", "error", err)
	}
	return nil, ExportOutput{
		RunID:   e.RunID(),
		Dataset: string(ds),
		Path:    path,
		Rows:    run.Rows(ds),
		Deleted: deleted,
	}, nil
}

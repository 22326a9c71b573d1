package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/config"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

// loadConfig reads --config, or the default locations, applies --log-level
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.StochsimConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.StochsimConfig
	var err error
	switch {
	case path != "" && fileExists(path):
		cfg, err = config.LoadFromFile(path)
	case path != "":
		cfg = config.Default()
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// configPath returns --config or the default config file location.
func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.Path()
}

// addRunFlags registers the flags that override simulation parameters.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("process", "", "Process: wiener, gbm or gbm-terminal")
	cmd.Flags().Float64("s0", 0, "Initial level (GBM)")
	cmd.Flags().Float64("mu", 0, "Drift rate")
	cmd.Flags().Float64("sigma", 0, "Volatility")
	cmd.Flags().Float64("horizon", 0, "Horizon T")
	cmd.Flags().Int("steps", 0, "Increments per path")
	cmd.Flags().Int("paths", 0, "Number of paths")
	cmd.Flags().Uint32("seed", 0, "Generator seed")
	cmd.Flags().Float64("rate", 0, "Playback rate in steps (or terminal paths) per second")
}

// resolveRun merges explicitly set run flags over the configured simulation.
func resolveRun(cmd *cobra.Command, cfg *config.StochsimConfig) (models.Process, models.Params, error) {
	f := cmd.Flags()
	p := cfg.Simulation.Params

	name := cfg.Simulation.Process
	if f.Changed("process") {
		name, _ = f.GetString("process")
	}
	process, err := models.ParseProcess(name)
	if err != nil {
		return "", p, err
	}

	if f.Changed("s0") {
		p.S0, _ = f.GetFloat64("s0")
	}
	if f.Changed("mu") {
		p.Mu, _ = f.GetFloat64("mu")
	}
	if f.Changed("sigma") {
		p.Sigma, _ = f.GetFloat64("sigma")
	}
	if f.Changed("horizon") {
		p.T, _ = f.GetFloat64("horizon")
	}
	if f.Changed("steps") {
		p.Steps, _ = f.GetInt("steps")
	}
	if f.Changed("paths") {
		p.Paths, _ = f.GetInt("paths")
	}
	if f.Changed("seed") {
		p.Seed, _ = f.GetUint32("seed")
	}
	if f.Changed("rate") {
		rate, _ := f.GetFloat64("rate")
		if !(rate > 0) {
			return "", p, fmt.Errorf("--rate must be > 0, got %v", rate)
		}
		cfg.Playback.Rate = rate
	}
	return process, p, p.Validate()
}

func newLogger(cmd *cobra.Command, cfg *config.StochsimConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// newEngine builds an engine for the resolved run. The returned cleanup
// closes the run trace.
func newEngine(cmd *cobra.Command, cfg *config.StochsimConfig, observer playback.Observer) (*playback.Engine, func(), error) {
	process, params, err := resolveRun(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	events := cfg.EventLogger()
	e, err := playback.NewEngine(process, params, playback.Options{
		Rate:       cfg.Playback.Rate,
		MaxPerTick: cfg.Playback.MaxPerTick,
		Logger:     newLogger(cmd, cfg),
		Events:     events,
		Observer:   observer,
	})
	if err != nil {
		events.Close()
		return nil, nil, err
	}
	return e, events.Close, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as one compact JSON line.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

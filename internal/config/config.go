// Package config provides unified configuration loading for stochsim.
// It supports loading from YAML files, a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/export"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/models"
)

// DirName is the per-user state directory under $HOME.
const DirName = ".stochsim"

// StochsimConfig contains all stochsim configuration settings.
type StochsimConfig struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Playback   PlaybackConfig   `json:"playback" yaml:"playback"`
	Histogram  HistogramConfig  `json:"histogram" yaml:"histogram"`
	Decision   DecisionConfig   `json:"decision" yaml:"decision"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Export     ExportConfig     `json:"export" yaml:"export"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// SimulationConfig selects the process and its parameters.
type SimulationConfig struct {
	// Process is "wiener", "gbm" or "gbm-terminal".
	Process string `json:"process" yaml:"process"`

	models.Params `yaml:",inline"`
}

// PlaybackConfig configures the scheduler.
type PlaybackConfig struct {
	// Rate is steps per second (paths per second for gbm-terminal).
	Rate float64 `json:"rate" yaml:"rate"`

	// MaxPerTick caps the work of one tick. Zero picks the process default.
	MaxPerTick int `json:"max_per_tick" yaml:"max_per_tick"`

	// TickInterval is the wall-clock period of the live ticker.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// HistogramConfig configures terminal-value histograms.
type HistogramConfig struct {
	// Bins is the bar count. Zero picks the process default.
	Bins int `json:"bins" yaml:"bins"`

	// View is "linear" or "log" (GBM only).
	View string `json:"view" yaml:"view"`
}

// DecisionConfig configures the loss analysis.
type DecisionConfig struct {
	// Loss is "squared", "absolute" or "pinball".
	Loss string `json:"loss" yaml:"loss"`

	// Tau is the pinball quantile level, in (0, 1).
	Tau float64 `json:"tau" yaml:"tau"`

	// GridPoints is the number of candidate decisions.
	GridPoints int `json:"grid_points" yaml:"grid_points"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string `json:"addr" yaml:"addr"`

	// ControlRate and ControlBurst limit POST /api/control per client.
	ControlRate  float64 `json:"control_rate" yaml:"control_rate"`
	ControlBurst int     `json:"control_burst" yaml:"control_burst"`
}

// ExportConfig configures the archive of exported streams in
// ~/.stochsim/exports. Empty limits are not applied.
type ExportConfig struct {
	// Keep is the number of archived streams to keep. Zero keeps all.
	Keep int `json:"keep" yaml:"keep"`

	// MaxAge drops streams older than this, e.g. "30d" or "720h".
	MaxAge string `json:"max_age" yaml:"max_age"`

	// MaxSize caps the archive's total size, e.g. "100MB".
	MaxSize string `json:"max_size" yaml:"max_size"`
}

// LoggingConfig configures stochsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables run-event logging to ~/.stochsim/runs.jsonl.
	// "trace" additionally logs every scheduler tick.
	Level string `json:"level" yaml:"level"`
}

// Default returns a StochsimConfig with sensible defaults.
func Default() *StochsimConfig {
	return &StochsimConfig{
		Simulation: SimulationConfig{
			Process: string(models.ProcessGBM),
			Params:  models.DefaultParams(),
		},
		Playback: PlaybackConfig{
			Rate:         constants.DefaultRate,
			TickInterval: constants.DefaultTickIntervalMs * time.Millisecond,
		},
		Histogram: HistogramConfig{
			View: string(models.ViewLinear),
		},
		Decision: DecisionConfig{
			Loss:       string(decision.KindSquared),
			Tau:        constants.DefaultTau,
			GridPoints: constants.DefaultGridPoints,
		},
		Server: ServerConfig{
			Addr:         "localhost:0",
			ControlRate:  10,
			ControlBurst: 20,
		},
		Export: ExportConfig{
			Keep: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns ~/.stochsim.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Path returns ~/.stochsim/config.yaml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.stochsim/config.yaml -> ./.env -> environment variables.
// Variables from .env never override ones already set in the environment.
func Load() (*StochsimConfig, error) {
	cfg := Default()

	if path, err := Path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			fileCfg, loadErr := LoadFromFile(path)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			cfg = fileCfg
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. ${VAR}
// references are expanded; keys missing from the file keep their defaults.
func LoadFromFile(path string) (*StochsimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating its directory.
func (c *StochsimConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *StochsimConfig) Validate() error {
	if _, err := models.ParseProcess(c.Simulation.Process); err != nil {
		return err
	}
	if err := c.Simulation.Params.Validate(); err != nil {
		return err
	}

	if !(c.Playback.Rate > 0) {
		return fmt.Errorf("playback.rate must be > 0, got %v", c.Playback.Rate)
	}
	if c.Playback.MaxPerTick < 0 {
		return fmt.Errorf("playback.max_per_tick must be >= 0, got %d", c.Playback.MaxPerTick)
	}
	if c.Playback.TickInterval <= 0 {
		return fmt.Errorf("playback.tick_interval must be positive, got %v", c.Playback.TickInterval)
	}

	if c.Histogram.Bins != 0 && (c.Histogram.Bins < constants.MinBins || c.Histogram.Bins > constants.MaxBins) {
		return fmt.Errorf("histogram.bins must be 0 or between %d and %d, got %d", constants.MinBins, constants.MaxBins, c.Histogram.Bins)
	}
	if _, ok := models.ParseView(c.Histogram.View); !ok {
		return fmt.Errorf("invalid histogram.view: %s (valid: linear, log)", c.Histogram.View)
	}

	if _, err := c.Loss(); err != nil {
		return err
	}
	if c.Decision.GridPoints < 2 {
		return fmt.Errorf("decision.grid_points must be >= 2, got %d", c.Decision.GridPoints)
	}

	if c.Server.ControlRate <= 0 || c.Server.ControlBurst < 1 {
		return fmt.Errorf("server.control_rate must be > 0 and server.control_burst >= 1")
	}

	if _, err := c.ExportPolicy(); err != nil {
		return err
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Process returns the configured process.
func (c *StochsimConfig) Process() (models.Process, error) {
	return models.ParseProcess(c.Simulation.Process)
}

// View returns the configured histogram view.
func (c *StochsimConfig) View() models.View {
	v, _ := models.ParseView(c.Histogram.View)
	return v
}

// Loss returns the configured loss family.
func (c *StochsimConfig) Loss() (decision.Loss, error) {
	return decision.ParseLoss(c.Decision.Loss, c.Decision.Tau)
}

// EventLogger opens the run trace in ~/.stochsim for the configured level.
// It returns nil at info level.
func (c *StochsimConfig) EventLogger() *logging.EventLogger {
	dir, err := Dir()
	if err != nil {
		return nil
	}
	return logging.NewEventLogger(dir, c.Logging.Level)
}

// ExportDir returns ~/.stochsim/exports.
func ExportDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "exports"), nil
}

// ExportPolicy combines the configured archive limits.
func (c *StochsimConfig) ExportPolicy() (export.RetentionPolicy, error) {
	var policies []export.RetentionPolicy
	if c.Export.Keep < 0 {
		return nil, fmt.Errorf("export.keep must be >= 0, got %d", c.Export.Keep)
	}
	if c.Export.Keep > 0 {
		policies = append(policies, &export.CountPolicy{MaxCount: c.Export.Keep})
	}
	if c.Export.MaxAge != "" {
		d, err := export.ParseDuration(c.Export.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("export.max_age: %w", err)
		}
		policies = append(policies, &export.AgePolicy{MaxAge: d})
	}
	if c.Export.MaxSize != "" {
		n, err := export.ParseSize(c.Export.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("export.max_size: %w", err)
		}
		policies = append(policies, &export.SizePolicy{MaxTotalBytes: n})
	}
	return &export.AllPolicy{Policies: policies}, nil
}

// key describes one dot-notation setting.
type key struct {
	env string
	get func(*StochsimConfig) any
	set func(*StochsimConfig, string) error
}

var keys = map[string]key{
	"simulation.process": {"STOCHSIM_PROCESS",
		func(c *StochsimConfig) any { return c.Simulation.Process },
		func(c *StochsimConfig, v string) error {
			if _, err := models.ParseProcess(v); err != nil {
				return err
			}
			c.Simulation.Process = v
			return nil
		}},
	"simulation.s0":    floatKey("STOCHSIM_S0", func(c *StochsimConfig) *float64 { return &c.Simulation.S0 }),
	"simulation.mu":    floatKey("STOCHSIM_MU", func(c *StochsimConfig) *float64 { return &c.Simulation.Mu }),
	"simulation.sigma": floatKey("STOCHSIM_SIGMA", func(c *StochsimConfig) *float64 { return &c.Simulation.Sigma }),
	"simulation.t":     floatKey("STOCHSIM_T", func(c *StochsimConfig) *float64 { return &c.Simulation.T }),
	"simulation.steps": intKey("STOCHSIM_STEPS", func(c *StochsimConfig) *int { return &c.Simulation.Steps }),
	"simulation.paths": intKey("STOCHSIM_PATHS", func(c *StochsimConfig) *int { return &c.Simulation.Paths }),
	"simulation.seed": {"STOCHSIM_SEED",
		func(c *StochsimConfig) any { return c.Simulation.Seed },
		func(c *StochsimConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid seed: %s (must be an unsigned 32-bit integer)", v)
			}
			c.Simulation.Seed = uint32(n)
			return nil
		}},
	"playback.rate":         floatKey("STOCHSIM_RATE", func(c *StochsimConfig) *float64 { return &c.Playback.Rate }),
	"playback.max_per_tick": intKey("STOCHSIM_MAX_PER_TICK", func(c *StochsimConfig) *int { return &c.Playback.MaxPerTick }),
	"playback.tick_interval": {"STOCHSIM_TICK_INTERVAL",
		func(c *StochsimConfig) any { return c.Playback.TickInterval.String() },
		func(c *StochsimConfig, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", v)
			}
			c.Playback.TickInterval = d
			return nil
		}},
	"histogram.bins": intKey("STOCHSIM_BINS", func(c *StochsimConfig) *int { return &c.Histogram.Bins }),
	"histogram.view": {"STOCHSIM_VIEW",
		func(c *StochsimConfig) any { return c.Histogram.View },
		func(c *StochsimConfig, v string) error {
			if _, ok := models.ParseView(v); !ok {
				return fmt.Errorf("invalid view: %s (valid: linear, log)", v)
			}
			c.Histogram.View = v
			return nil
		}},
	"decision.loss": {"STOCHSIM_LOSS",
		func(c *StochsimConfig) any { return c.Decision.Loss },
		func(c *StochsimConfig, v string) error {
			if _, err := decision.ParseLoss(v, constants.DefaultTau); err != nil {
				return err
			}
			c.Decision.Loss = v
			return nil
		}},
	"decision.tau":         floatKey("STOCHSIM_TAU", func(c *StochsimConfig) *float64 { return &c.Decision.Tau }),
	"decision.grid_points": intKey("STOCHSIM_GRID_POINTS", func(c *StochsimConfig) *int { return &c.Decision.GridPoints }),
	"server.addr":          stringKey("STOCHSIM_ADDR", func(c *StochsimConfig) *string { return &c.Server.Addr }),
	"server.control_rate":  floatKey("STOCHSIM_CONTROL_RATE", func(c *StochsimConfig) *float64 { return &c.Server.ControlRate }),
	"server.control_burst": intKey("STOCHSIM_CONTROL_BURST", func(c *StochsimConfig) *int { return &c.Server.ControlBurst }),
	"export.keep":          intKey("STOCHSIM_EXPORT_KEEP", func(c *StochsimConfig) *int { return &c.Export.Keep }),
	"export.max_age":       stringKey("STOCHSIM_EXPORT_MAX_AGE", func(c *StochsimConfig) *string { return &c.Export.MaxAge }),
	"export.max_size":      stringKey("STOCHSIM_EXPORT_MAX_SIZE", func(c *StochsimConfig) *string { return &c.Export.MaxSize }),
	"logging.level":        stringKey("STOCHSIM_LOG_LEVEL", func(c *StochsimConfig) *string { return &c.Logging.Level }),
}

func floatKey(env string, ptr func(*StochsimConfig) *float64) key {
	return key{env,
		func(c *StochsimConfig) any { return *ptr(c) },
		func(c *StochsimConfig, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number: %s", v)
			}
			*ptr(c) = f
			return nil
		}}
}

func intKey(env string, ptr func(*StochsimConfig) *int) key {
	return key{env,
		func(c *StochsimConfig) any { return *ptr(c) },
		func(c *StochsimConfig, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer: %s", v)
			}
			*ptr(c) = n
			return nil
		}}
}

func stringKey(env string, ptr func(*StochsimConfig) *string) key {
	return key{env,
		func(c *StochsimConfig) any { return *ptr(c) },
		func(c *StochsimConfig, v string) error {
			*ptr(c) = v
			return nil
		}}
}

// Keys returns every dot-notation key in sorted order.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(name string) (string, bool) {
	k, ok := keys[name]
	return k.env, ok
}

// Get retrieves a configuration value by dot-notation key.
func (c *StochsimConfig) Get(name string) (any, bool) {
	k, ok := keys[name]
	if !ok {
		return nil, false
	}
	return k.get(c), true
}

// Set parses value into the setting named by a dot-notation key. It checks
// the value's syntax; cross-field constraints are left to Validate.
func (c *StochsimConfig) Set(name, value string) error {
	k, ok := keys[name]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", name)
	}
	return k.set(c, value)
}

// applyEnvOverrides applies STOCHSIM_* environment overrides. Values that do
// not parse are ignored.
func applyEnvOverrides(c *StochsimConfig) {
	for _, name := range Keys() {
		k := keys[name]
		if v := os.Getenv(k.env); v != "" {
			_ = k.set(c, v)
		}
	}
}

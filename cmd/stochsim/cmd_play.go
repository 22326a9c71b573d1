package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

// progressLine is one JSON progress record of a live run.
type progressLine struct {
	RunID      string        `json:"run_id"`
	Mode       playback.Mode `json:"mode"`
	Completed  int           `json:"completed"`
	Target     int           `json:"target"`
	TotalSteps int64         `json:"total_steps"`
	Mean       models.Stat   `json:"mean"`
	Finished   bool          `json:"finished"`
}

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a simulation back in real time",
		Long: `Play a simulation against the wall clock at the configured rate,
printing progress as paths complete. Ctrl-C pauses the run and exits.

Examples:
  stochsim play --rate 2000
  stochsim play --process gbm-terminal --rate 500 --every 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			every, _ := cmd.Flags().GetInt("every")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			interval := cfg.Playback.TickInterval
			if cmd.Flags().Changed("tick-interval") {
				interval, _ = cmd.Flags().GetDuration("tick-interval")
			}
			if interval <= 0 {
				return fmt.Errorf("tick interval must be positive, got %v", interval)
			}

			e, done, err := newEngine(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer done()
			if every <= 0 {
				every = max(1, e.Params().Paths/10)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			out := cmd.OutOrStdout()
			report := func(e *playback.Engine, finished bool) {
				line := progressLine{
					RunID:      e.RunID(),
					Mode:       e.Mode(),
					Completed:  e.N(),
					Target:     e.Params().Paths,
					TotalSteps: e.TotalSteps(),
					Finished:   finished,
				}
				mean, _ := e.Aggregate().MeanAndVariance()
				line.Mean = models.Stat(mean)
				if jsonOut {
					_ = writeJSONLine(out, line)
					return
				}
				fmt.Fprintf(out, "%6d/%d paths  %10d steps  mean %s\n",
					line.Completed, line.Target, line.TotalSteps, formatStat(line.Mean))
			}

			var runErr error
			next := every
			hook := func(e *playback.Engine, res playback.TickResult, err error) {
				if err != nil {
					runErr = err
					cancel()
					return
				}
				if e.N() >= next || res.Finished {
					report(e, res.Finished)
					for next <= e.N() {
						next += every
					}
				}
				if res.Finished {
					cancel()
				}
			}

			if err := e.Start(); err != nil {
				return err
			}
			start := time.Now()
			d := playback.NewDriver(e, playback.NewTickerSource(interval), hook)
			err = d.Run(ctx)
			if runErr != nil {
				return fmt.Errorf("run %s: %w", e.RunID(), runErr)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			if !e.Complete() {
				e.Pause()
				if !jsonOut {
					fmt.Fprintf(out, "Paused after %d of %d paths.\n", e.N(), e.Params().Paths)
				}
				return nil
			}
			if !jsonOut {
				fmt.Fprintf(out, "Finished %d paths in %v.\n", e.N(), time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}

	addRunFlags(cmd)
	cmd.Flags().Duration("tick-interval", 0, "Wall-clock tick period (default from config)")
	cmd.Flags().Int("every", 0, "Report progress every N paths (default: a tenth of the run)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/playback"
)

// runOutput is the JSON shape of a finished run.
type runOutput struct {
	RunID          string             `json:"run_id"`
	Process        models.Process     `json:"process"`
	Params         models.Params      `json:"params"`
	TotalSteps     int64              `json:"total_steps"`
	GeneratorState uint32             `json:"generator_state"`
	Summary        montecarlo.Summary `json:"summary"`
	Theory         montecarlo.Moments `json:"theory"`
	Histogram      []models.Bin       `json:"histogram,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation to completion on a virtual clock",
		Long: `Run a simulation headless and print the terminal summary.

No wall time passes between ticks, so a run finishes as fast as it can be
computed. The sample is identical to a live run with the same parameters.

Examples:
  stochsim run                                  # configured defaults
  stochsim run --process wiener --paths 10000   # override parameters
  stochsim run --histogram --bins 30 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			withHist, _ := cmd.Flags().GetBool("histogram")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			e, done, err := newEngine(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer done()

			if err := playback.RunHeadless(cmd.Context(), e); err != nil {
				return fmt.Errorf("run %s: %w", e.RunID(), err)
			}

			out := runOutput{
				RunID:          e.RunID(),
				Process:        e.Process(),
				Params:         e.Params(),
				TotalSteps:     e.TotalSteps(),
				GeneratorState: e.GeneratorState(),
				Summary:        e.Aggregate().Summary(),
				Theory:         montecarlo.Theory(e.Process(), e.Params()),
			}
			if withHist {
				bins, view := histogramFlags(cmd, cfg.Histogram.Bins, cfg.View())
				out.Histogram = e.Aggregate().Histogram(defaultBins(bins, e.Process()), view)
			}

			if jsonOut {
				return writeJSON(cmd, out)
			}
			printRun(cmd.OutOrStdout(), out)
			return nil
		},
	}

	addRunFlags(cmd)
	addHistogramFlags(cmd)
	cmd.Flags().Bool("histogram", false, "Include the terminal histogram")
	return cmd
}

func addHistogramFlags(cmd *cobra.Command) {
	cmd.Flags().Int("bins", 0, "Histogram bins (0 = process default)")
	cmd.Flags().String("view", "", "Histogram coordinate for GBM: linear or log")
}

// histogramFlags returns --bins and --view, falling back to the given defaults.
func histogramFlags(cmd *cobra.Command, bins int, view models.View) (int, models.View) {
	if cmd.Flags().Changed("bins") {
		bins, _ = cmd.Flags().GetInt("bins")
	}
	if cmd.Flags().Changed("view") {
		name, _ := cmd.Flags().GetString("view")
		if v, ok := models.ParseView(name); ok {
			view = v
		}
	}
	return bins, view
}

// defaultBins picks the process default for a non-positive bin count.
func defaultBins(bins int, process models.Process) int {
	if bins > 0 {
		return bins
	}
	return playback.DefaultBins(process)
}

func printRun(w io.Writer, out runOutput) {
	p := out.Params
	fmt.Fprintf(w, "Run %s (%s)\n", out.RunID, out.Process)
	fmt.Fprintf(w, "  %d paths x %d steps, T=%g, seed=%d (%d steps taken)\n\n",
		p.Paths, stepsPerPath(out.Process, p), p.T, p.Seed, out.TotalSteps)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  \tsample\ttheory")
	fmt.Fprintf(tw, "  mean\t%s\t%s\n", formatStat(out.Summary.Mean), formatStat(out.Theory.Mean))
	fmt.Fprintf(tw, "  variance\t%s\t%s\n", formatStat(out.Summary.Variance), formatStat(out.Theory.Variance))
	fmt.Fprintf(tw, "  std dev\t%s\t\n", formatStat(out.Summary.StdDev))
	fmt.Fprintf(tw, "  min / max\t%s / %s\t\n", formatStat(out.Summary.Min), formatStat(out.Summary.Max))
	fmt.Fprintf(tw, "  p05 / p50 / p95\t%s / %s / %s\t\n",
		formatStat(out.Summary.P05), formatStat(out.Summary.P50), formatStat(out.Summary.P95))
	tw.Flush()

	if len(out.Histogram) > 0 {
		fmt.Fprintln(w)
		printHistogram(w, out.Histogram)
	}
}

func printHistogram(w io.Writer, bins []models.Bin) {
	peak := 0
	for _, b := range bins {
		peak = max(peak, b.Count)
	}
	for _, b := range bins {
		bar := 0
		if peak > 0 {
			bar = b.Count * 40 / peak
		}
		fmt.Fprintf(w, "  %10.4g | %-40s %d\n", b.Center, strings.Repeat("#", bar), b.Count)
	}
}

func formatStat(s models.Stat) string {
	if !s.Defined() {
		return "-"
	}
	return fmt.Sprintf("%.6g", float64(s))
}

func stepsPerPath(process models.Process, p models.Params) int {
	if process == models.ProcessGBMTerminal {
		return 1
	}
	return p.Steps
}

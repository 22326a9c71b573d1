package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/config"
	"github.com/nvandessel/stochsim/internal/export"
	"github.com/nvandessel/stochsim/internal/playback"
)

type exportOutput struct {
	RunID   string         `json:"run_id"`
	Dataset export.Dataset `json:"dataset"`
	Path    string         `json:"path"`
	Rows    int            `json:"rows"`
	Deleted []string       `json:"deleted,omitempty"`
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <paths|terminals|histogram|loss>",
		Short: "Export a finished run as an Arrow IPC stream",
		Long: `Run a simulation headless and write one dataset as an Arrow IPC stream.

  paths      the archived trajectories, one record batch per path
  terminals  every terminal value (and its log for GBM)
  histogram  the terminal histogram
  loss       the expected-loss curve of a decision analysis

Run parameters are stored in the schema metadata. Files are written through a
temporary file and renamed into place. With --archive the stream gets a
timestamped name in ~/.stochsim/exports, and the oldest archived streams beyond
the export.keep, export.max_age and export.max_size limits are removed.

Examples:
  stochsim export terminals -o terminals.arrow
  stochsim export loss --loss pinball --tau 0.9 -o loss.arrow
  stochsim export paths --archive
  stochsim export inspect terminals.arrow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			archive, _ := cmd.Flags().GetBool("archive")

			ds, err := export.ParseDataset(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loss, grid, err := lossFlags(cmd, cfg.Decision.Loss, cfg.Decision.Tau, cfg.Decision.GridPoints)
			if err != nil {
				return err
			}
			bins, view := histogramFlags(cmd, cfg.Histogram.Bins, cfg.View())

			e, done, err := newEngine(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer done()
			if err := playback.RunHeadless(cmd.Context(), e); err != nil {
				return fmt.Errorf("run %s: %w", e.RunID(), err)
			}

			run, err := export.FromEngine(e, ds, export.Options{Bins: bins, View: view, Loss: loss, GridPoints: grid})
			if err != nil {
				return fmt.Errorf("export %s: %w", ds, err)
			}
			write := func(w io.Writer) error { return export.Write(w, nil, ds, run) }

			var deleted []string
			switch {
			case archive:
				dir, err := config.ExportDir()
				if err != nil {
					return err
				}
				policy, err := cfg.ExportPolicy()
				if err != nil {
					return err
				}
				output = export.ArchivePath(dir, ds, e.RunID(), time.Now())
				if err := export.WriteFile(output, write); err != nil {
					return fmt.Errorf("export %s: %w", ds, err)
				}
				if deleted, err = export.ApplyRetention(dir, policy); err != nil {
					return fmt.Errorf("apply retention: %w", err)
				}
			case output != "" && output != "-":
				if err := export.WriteFile(output, write); err != nil {
					return fmt.Errorf("export %s: %w", ds, err)
				}
			default:
				bw := bufio.NewWriter(cmd.OutOrStdout())
				if err := write(bw); err != nil {
					return fmt.Errorf("export %s: %w", ds, err)
				}
				return bw.Flush()
			}

			if jsonOut {
				return writeJSON(cmd, exportOutput{
					RunID:   e.RunID(),
					Dataset: ds,
					Path:    output,
					Rows:    run.Rows(ds),
					Deleted: deleted,
				})
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s of run %s to %s (%d rows)\n", ds, e.RunID(), output, run.Rows(ds))
			for _, d := range deleted {
				fmt.Fprintf(cmd.ErrOrStderr(), "  removed %s\n", filepath.Base(d))
			}
			return nil
		},
	}

	addRunFlags(cmd)
	addHistogramFlags(cmd)
	addLossFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	cmd.Flags().Bool("archive", false, "Write into ~/.stochsim/exports and apply the export retention limits")
	cmd.MarkFlagsMutuallyExclusive("output", "archive")

	cmd.AddCommand(newExportInspectCmd())
	return cmd
}

func newExportInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe an exported stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := export.Inspect(bufio.NewReader(f), nil)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s, %d rows in %d batches\n", args[0], info.Dataset, info.Rows, info.Batches)
			fmt.Fprintf(out, "  columns: %v\n", info.Columns)
			for _, k := range []string{"run_id", "process", "s0", "mu", "sigma", "t", "steps", "paths", "seed"} {
				if v, ok := info.Metadata[k]; ok {
					fmt.Fprintf(out, "  %-8s %s\n", k+":", v)
				}
			}
			return nil
		},
	}
}

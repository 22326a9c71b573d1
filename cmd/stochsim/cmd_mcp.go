package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/config"
	"github.com/nvandessel/stochsim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve simulation tools over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools:
  stochsim_simulate  run a simulation and return its terminal summary
  stochsim_path      step one trajectory, optionally with its drift/diffusion split
  stochsim_decide    minimise expected loss over a simulated sample
  stochsim_theory    exact terminal moments and the expected band
  stochsim_export    write a dataset as an Arrow stream into ~/.stochsim/exports

Arguments the client leaves out come from the configuration. Tool calls are
audited to ~/.stochsim/audit.jsonl unless --no-audit is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			noAudit, _ := cmd.Flags().GetBool("no-audit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			auditDir := ""
			if !noAudit {
				if auditDir, err = config.Dir(); err != nil {
					return fmt.Errorf("resolve state directory: %w", err)
				}
			}

			exportDir, err := config.ExportDir()
			if err != nil {
				return fmt.Errorf("resolve export directory: %w", err)
			}

			srv, err := mcp.NewServer(&mcp.Config{
				Name:      "stochsim",
				Version:   version,
				Defaults:  cfg,
				AuditDir:  auditDir,
				ExportDir: exportDir,
				Logger:    newLogger(cmd, cfg),
			})
			if err != nil {
				return fmt.Errorf("create MCP server: %w", err)
			}
			defer srv.Close()

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().Bool("no-audit", false, "Disable the tool call audit log")
	return cmd
}

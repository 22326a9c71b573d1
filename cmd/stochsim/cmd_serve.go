package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nvandessel/stochsim/internal/metrics"
	"github.com/nvandessel/stochsim/internal/playback"
	"github.com/nvandessel/stochsim/internal/ratelimit"
	"github.com/nvandessel/stochsim/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a live run over HTTP and WebSocket",
		Long: `Start a local server that plays one run against the wall clock.

Endpoints:
  GET  /api/snapshot   current frame
  GET  /api/histogram  terminal histogram (?bins=&view=)
  GET  /api/loss       expected-loss curve (?loss=&tau=&grid=)
  POST /api/control    {"action": "start|pause|reset|rate", "rate": N}
  GET  /ws             frame stream; accepts control messages
  GET  /metrics        Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			noOpen, _ := cmd.Flags().GetBool("no-open")
			autostart, _ := cmd.Flags().GetBool("autostart")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			loss, err := cfg.Loss()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			e, done, err := newEngine(cmd, cfg, collector)
			if err != nil {
				return err
			}
			defer done()

			srv := server.New(server.Options{
				Addr:   cfg.Server.Addr,
				Engine: e,
				Source: playback.NewTickerSource(cfg.Playback.TickInterval),
				Frame: playback.FrameOptions{
					Bins:       cfg.Histogram.Bins,
					View:       cfg.View(),
					Background: true,
					Reference:  true,
					Envelope:   true,
				},
				Loss:           loss,
				GridPoints:     cfg.Decision.GridPoints,
				ControlLimiter: ratelimit.NewLimiter(cfg.Server.ControlRate, cfg.Server.ControlBurst),
				Gatherer:       reg,
				Logger:         newLogger(cmd, cfg),
			})
			return runServer(cmd, srv, autostart, noOpen)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("no-open", false, "Don't open a browser")
	cmd.Flags().Bool("autostart", false, "Start playback as soon as the server is up")
	return cmd
}

// runServer starts srv and blocks until Ctrl-C or the command context ends.
func runServer(cmd *cobra.Command, srv *server.Server, autostart, noOpen bool) error {
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

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	// Wait for server to start
	deadline := time.Now().Add(3 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return fmt.Errorf("server stopped before listening")
		case <-time.After(10 * time.Millisecond):
		}
	}

	addr := srv.Addr()
	if addr == "" {
		cancel()
		<-errCh
		return fmt.Errorf("server failed to start")
	}

	url := "http://" + addr
	fmt.Fprintf(cmd.OutOrStdout(), "Server running at %s\n", url)
	fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

	if autostart {
		var startErr error
		if err := srv.Do(ctx, func(e *playback.Engine) { startErr = e.Start() }); err == nil && startErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not start playback: %v\n", startErr)
		}
	}
	if !noOpen {
		if err := server.OpenBrowser(url); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
		}
	}

	// Block until server exits
	if err := <-errCh; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Package server exposes a live playback engine over HTTP and WebSocket.
//
// All engine access goes through one playback.Driver, so request handlers,
// WebSocket control messages and wall-clock ticks never race.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/metrics"
	"github.com/nvandessel/stochsim/internal/playback"
	"github.com/nvandessel/stochsim/internal/ratelimit"
)

// Options configure a Server.
type Options struct {
	// Addr is the listen address. Empty means "localhost:0".
	Addr string

	Engine *playback.Engine

	// Source feeds the driver. Nil means a wall-clock ticker at
	// constants.DefaultTickIntervalMs.
	Source playback.TickSource

	// Frame selects what /api/snapshot and /ws frames carry by default.
	Frame playback.FrameOptions

	// Loss and GridPoints are the /api/loss defaults.
	Loss       decision.Loss
	GridPoints int

	// ControlLimiter limits control requests per client address, over POST
	// /api/control and WebSocket alike. Nil disables limiting.
	ControlLimiter *ratelimit.Limiter

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// BroadcastInterval is the minimum gap between WebSocket frames while a
	// run progresses. Zero means 50ms.
	BroadcastInterval time.Duration

	Logger *slog.Logger
}

// Server serves snapshots, histograms, loss curves and control requests for
// one engine, and streams frames to WebSocket clients.
type Server struct {
	opts   Options
	driver *playback.Driver
	hub    *hub
	logger *slog.Logger

	httpServer *http.Server
	mu         sync.Mutex
	addr       string

	// Owned by the driver goroutine.
	lastSig       signature
	lastBroadcast time.Time
	nowFunc       func() time.Time
}

// signature summarizes the engine state a frame was built from.
type signature struct {
	runID string
	mode  playback.Mode
	steps int64
	rate  float64
}

// New returns a server for opts.Engine. It does not start listening.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "localhost:0"
	}
	if opts.Source == nil {
		opts.Source = playback.NewTickerSource(constants.DefaultTickIntervalMs * time.Millisecond)
	}
	if opts.Loss.Kind == "" {
		opts.Loss = decision.Squared()
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		nowFunc: time.Now,
	}
	s.hub = newHub(opts.Logger, s.handleControlMessage)
	s.driver = playback.NewDriver(opts.Engine, opts.Source, s.onTick)
	return s
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/histogram", s.handleHistogram)
	mux.HandleFunc("GET /api/loss", s.handleLoss)
	mux.HandleFunc("POST /api/control", s.handleControl)
	mux.HandleFunc("GET /ws", s.hub.handle)
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.opts.Gatherer))
	}
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled or
// the tick source is exhausted. It returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	s.logger.Info("server listening", "addr", s.addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.run(ctx)
		return nil
	})
	g.Go(func() error {
		// A closed tick source ends the whole server.
		defer cancel()
		if err := s.driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("driver: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	if l := s.opts.ControlLimiter; l != nil {
		g.Go(func() error {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					l.Prune()
				}
			}
		})
	}

	return g.Wait()
}

// Do runs fn on the driver goroutine.
func (s *Server) Do(ctx context.Context, fn func(*playback.Engine)) error {
	return s.driver.Do(ctx, fn)
}

// onTick runs on the driver goroutine after every tick and command. It
// broadcasts a frame when the engine changed, throttled while a run is
// progressing.
func (s *Server) onTick(e *playback.Engine, res playback.TickResult, err error) {
	if err != nil {
		s.logger.Warn("run stopped", "run_id", e.RunID(), "error", err)
	}

	sig := signature{runID: e.RunID(), mode: e.Mode(), steps: e.TotalSteps(), rate: e.Rate()}
	if sig == s.lastSig {
		return
	}
	now := s.nowFunc()
	force := err != nil || res.Finished || sig.mode != s.lastSig.mode || sig.runID != s.lastSig.runID
	if !force && now.Sub(s.lastBroadcast) < s.opts.BroadcastInterval {
		return
	}
	s.lastSig = sig
	s.lastBroadcast = now

	frame := e.Frame(s.opts.Frame)
	s.hub.publish(&frame)
}

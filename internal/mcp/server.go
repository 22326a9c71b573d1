// Package mcp provides an MCP (Model Context Protocol) server for stochsim.
// Its tools run bounded simulations to completion and return summaries,
// histograms, paths and decision curves.
package mcp

import (
	"context"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/stochsim/internal/config"
	"github.com/nvandessel/stochsim/internal/logging"
	"github.com/nvandessel/stochsim/internal/ratelimit"
)

// Server wraps the MCP SDK server and provides stochsim tools.
type Server struct {
	server       *sdk.Server
	defaults     *config.StochsimConfig
	toolLimiters ratelimit.ToolLimiters
	audit        *AuditLogger
	exportDir    string
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "stochsim")
	Version string // Server version

	// Defaults fill tool arguments the caller leaves out. Nil means config.Default().
	Defaults *config.StochsimConfig

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	// ExportDir confines the files stochsim_export writes. Empty disables
	// the tool's writes.
	ExportDir string

	Logger *slog.Logger
}

// NewServer creates a new MCP server with stochsim tools.
func NewServer(cfg *Config) (*Server, error) {
	defaults := cfg.Defaults
	if defaults == nil {
		defaults = config.Default()
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		defaults:     defaults,
		toolLimiters: ratelimit.NewToolLimiters(),
		exportDir:    cfg.ExportDir,
		logger:       logger,
	}
	if cfg.AuditDir != "" {
		s.audit = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.audit.Close()
	return err
}

// Close releases resources.
func (s *Server) Close() error {
	return s.audit.Close()
}

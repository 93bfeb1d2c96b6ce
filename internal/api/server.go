package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"platformctl/internal/cleanup"
	"platformctl/internal/health"
	"platformctl/internal/orchestrator"
	"platformctl/internal/reporting"
	"platformctl/internal/services"
	"platformctl/pkg/logging"
)

// Platform is the orchestration surface the tools drive.
type Platform interface {
	Run(ctx context.Context) (orchestrator.RunResult, error)
	StopAll(ctx context.Context) error
	Restart(ctx context.Context, name string) (services.Outcome, error)
	Probe(ctx context.Context, name string) (health.Result, error)
	Report() reporting.StatusReport
	RunCleanup(ctx context.Context, runner orchestrator.CleanupRunner) cleanup.Report
}

// Config configures the MCP server.
type Config struct {
	Host    string
	Port    int
	Version string

	Platform Platform
	// DryRunCleanup plans cleanups for cleanup_run with dry_run set.
	DryRunCleanup orchestrator.CleanupRunner
}

// Server serves the platform tools over SSE.
type Server struct {
	config    Config
	mcpServer *server.MCPServer
	sseServer *server.SSEServer

	mu      sync.Mutex
	running bool
}

// NewServer creates a server with all tools registered. Nothing listens yet.
func NewServer(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8095
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{config: cfg}
	s.mcpServer = server.NewMCPServer(
		"platformctl",
		cfg.Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("mcp server already started")
	}

	baseURL := fmt.Sprintf("http://%s", s.Addr())
	s.sseServer = server.NewSSEServer(
		s.mcpServer,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)
	s.running = true

	sseServer := s.sseServer
	addr := s.Addr()
	logging.Info("API", "Starting MCP server on %s", addr)
	go func() {
		if err := sseServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("API", err, "SSE server error")
		}
	}()
	return nil
}

// Stop shuts the SSE server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sseServer := s.sseServer
	running := s.running
	s.running = false
	s.sseServer = nil
	s.mu.Unlock()

	if !running || sseServer == nil {
		return nil
	}
	logging.Info("API", "Stopping MCP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sseServer.Shutdown(shutdownCtx)
}

// Serve runs until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop(context.Background())
}

// Tools lists the registered tool definitions.
func (s *Server) Tools() []mcp.Tool {
	return toolDefinitions()
}

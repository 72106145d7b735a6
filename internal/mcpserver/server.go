// Package mcpserver exposes the debugger's tool table over the Model
// Context Protocol. It supports Streamable HTTP (for clients that dial in
// over the network) and stdio (for clients that launch this binary as a
// child process directly rather than dialing in).
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
)

// Config holds MCP server transport configuration.
type Config struct {
	Host               string
	Port               int
	StreamableHTTPPath string
	Stdio              bool
}

// Server wraps the Streamable HTTP transport with lifecycle management,
// or, in stdio mode, blocks serving over stdin/stdout until stdin
// closes.
type Server struct {
	cfg     Config
	deps    Deps
	mcp     *server.MCPServer
	http    *server.StreamableHTTPServer
	srv     *http.Server
	mu      sync.Mutex
	running bool
	log     *logger.Logger
}

// New creates a Server bound to the given tool dependencies.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.WithFields(zap.String("component", "mcp-server")),
	}
}

// Start registers the tool table and begins serving. In stdio mode this
// blocks until stdin closes; in HTTP mode it returns once the listener is
// confirmed up.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"pwno-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.deps)
	s.mcp = mcpServer

	if s.cfg.Stdio {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		s.log.Info("serving MCP over stdio")
		return server.ServeStdio(mcpServer)
	}

	path := s.cfg.StreamableHTTPPath
	if path == "" {
		path = "/mcp"
	}
	s.http = server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath(path))

	mux := http.NewServeMux()
	mux.Handle(path, s.http)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.srv = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.log.Info("MCP server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("path", path),
		)

		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the HTTP transport. No-op in stdio mode.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown MCP HTTP server: %w", err)
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shutdown streamable HTTP transport", zap.Error(err))
		}
	}
	return nil
}

// StreamableHTTPEndpoint returns the full URL clients dial for the
// Streamable HTTP transport.
func (s *Server) StreamableHTTPEndpoint() string {
	path := s.cfg.StreamableHTTPPath
	if path == "" {
		path = "/mcp"
	}
	return fmt.Sprintf("http://%s:%d%s", s.cfg.Host, s.cfg.Port, path)
}

// Package httpapi hosts the host-driven control surface that sits beside
// the MCP transport: a liveness router plus the single POST /attach route
// used to batch-orchestrate a debugger attach without going through the
// JSON tool protocol. Split into its own package since this service hosts
// two independent HTTP surfaces (MCP transport, host control) rather than
// one.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/config"
	"github.com/pwno-io/pwno-mcp/internal/common/httpmw"
	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/tools"
	"github.com/pwno-io/pwno-mcp/internal/exploitpipe"
	"github.com/pwno-io/pwno-mcp/internal/subprocess"
)

// Config holds the host control surface's listen address.
type Config struct {
	Host      string
	Port      int
	Debug     bool
	Workspace string
}

// Server is the loopback-bound host control HTTP server: GET /, GET
// /health, POST /attach.
type Server struct {
	cfg Config
	srv *http.Server
	log *logger.Logger
}

// New builds the router and wraps it in an *http.Server, but does not
// start listening yet. subp and pipe feed GET /health's component census;
// either may be nil in tests that don't need it.
func New(cfg Config, auth config.AuthConfig, debugger *tools.Tools, subp *subprocess.Manager, pipe *exploitpipe.Manager, log *logger.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.OtelTracing("pwno-attach", log))

	router.GET("/", handleRoot())
	router.GET("/health", handleHealth(cfg, debugger, subp, pipe))

	protected := router.Group("/")
	protected.Use(newAuthMiddleware(auth, log))
	protected.POST("/attach", handleAttach(debugger))

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
		log: log.WithFields(zap.String("component", "httpapi")),
	}
}

// Start begins serving in the background and returns once the listener
// is confirmed up.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	go func() {
		s.log.Info("host control API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("host control API error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(stopCtx)
}

func handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "pwno-mcp"})
	}
}

// handleHealth reports overall status plus a per-component census: the
// debugger controller's reachability, whether an exploit pipe child is
// attached, how many tracked subprocesses are live, and the configured
// workspace directory.
func handleHealth(cfg Config, debugger *tools.Tools, subp *subprocess.Manager, pipe *exploitpipe.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := gin.H{}

		debuggerUp := debugger != nil && debugger.Alive()
		components["debugger"] = statusLabel(debuggerUp)

		pipeUp := false
		if pipe != nil {
			if cur := pipe.Current(); cur != nil {
				pipeUp = cur.Alive()
			}
		}
		components["exploit_pipe"] = statusLabel(pipeUp)

		active := 0
		if subp != nil {
			for _, p := range subp.List() {
				if p.Status == subprocess.StatusRunning {
					active++
				}
			}
		}

		status := "ok"
		if !debuggerUp {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":           status,
			"components":       components,
			"active_processes": active,
			"workspace":        cfg.Workspace,
		})
	}
}

func statusLabel(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

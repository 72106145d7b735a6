package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/config"
	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
	"github.com/pwno-io/pwno-mcp/internal/debugger/session"
	"github.com/pwno-io/pwno-mcp/internal/debugger/tools"
	"github.com/pwno-io/pwno-mcp/internal/exploitpipe"
	"github.com/pwno-io/pwno-mcp/internal/httpapi"
	"github.com/pwno-io/pwno-mcp/internal/mcpserver"
	"github.com/pwno-io/pwno-mcp/internal/subprocess"
	"github.com/pwno-io/pwno-mcp/internal/tracing"

	"github.com/google/uuid"
)

func main() {
	flags := pflag.NewFlagSet("pwno-mcp", pflag.ContinueOnError)
	flags.String("host", "", "MCP tool-dispatch transport host")
	flags.Int("port", 0, "MCP tool-dispatch transport port")
	flags.String("attach-host", "", "host control API host")
	flags.Int("attach-port", 0, "host control API port")
	flags.String("streamable-http-path", "", "Streamable HTTP endpoint path")
	flags.Bool("stdio", false, "serve MCP over stdio instead of Streamable HTTP")
	configPath := flags.String("config", "", "directory to search for config.yaml")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	// 1. Load configuration: defaults -> config file -> env (PWNO_*) -> flags.
	cfg, err := config.LoadWithFlags(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting pwno-mcp")

	// 3. Ensure the workspace directory exists.
	if cfg.Workspace != "" {
		if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
			log.Fatal("failed to create workspace directory", zap.String("path", cfg.Workspace), zap.Error(err))
		}
	}

	// 4. Context with cancellation, torn down on shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. OpenTelemetry tracing initializes lazily on first use (no-op unless
	// OTEL_EXPORTER_OTLP_ENDPOINT is set); force that here at startup
	// rather than on the first MI command. An exporter that cannot be set
	// up is not reported; tracing then stays a no-op.
	tracing.Tracer("pwno-mcp")
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	// 6. Start the debugger controller (spawns and initializes the GDB child).
	ctrl := controller.New(log)
	if err := ctrl.Start(ctx, cfg.Debugger.GDBPath); err != nil {
		log.Fatal("failed to start debugger controller", zap.Error(err))
	}
	defer ctrl.Stop()
	log.Info("debugger controller started", zap.String("gdbPath", cfg.Debugger.GDBPath))

	sess := session.New(uuid.New().String())
	debugger := tools.New(ctrl, sess, cfg.Debugger.CommandTimeout(), cfg.Debugger.QuickContextDisasmBytes)

	// 7. Subprocess manager and exploit pipe manager.
	subp := subprocess.New(log, cfg.Subprocess.LogDir, cfg.Subprocess.SpawnSettle())
	pipe := exploitpipe.NewManager(log)

	// 8. Start the MCP tool-dispatch server. Streamable HTTP mode's Start
	// returns once the listener is up; stdio mode's Start blocks serving
	// until stdin closes, so it runs in its own goroutine and its exit
	// doubles as the shutdown trigger alongside OS signals.
	mcpCfg := mcpserver.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		StreamableHTTPPath: cfg.Server.StreamableHTTPPath,
		Stdio:              cfg.Server.Stdio,
	}
	deps := mcpserver.Deps{
		Debugger:     debugger,
		Subprocess:   subp,
		Pipe:         pipe,
		Log:          log,
		ReadyTimeout: cfg.ExploitPipe.ReadyTimeout(),
	}

	_, stdioDone, stopMCP, err := mcpserver.Provide(ctx, mcpCfg, deps)
	if err != nil {
		log.Fatal("failed to start MCP server", zap.Error(err))
	}

	// 9. Start the host control HTTP surface (GET /, GET /health, POST /attach).
	attachSrv := httpapi.New(
		httpapi.Config{Host: cfg.Attach.Host, Port: cfg.Attach.Port, Workspace: cfg.Workspace},
		cfg.Auth,
		debugger,
		subp,
		pipe,
		log,
	)
	if err := attachSrv.Start(); err != nil {
		log.Fatal("failed to start host control API", zap.Error(err))
	}

	// 10. Wait for a shutdown signal, or for the stdio transport to close.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutting down pwno-mcp")
	case err := <-stdioDone:
		if err != nil {
			log.Warn("MCP stdio transport exited", zap.Error(err))
		}
		log.Info("shutting down pwno-mcp (stdio closed)")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := attachSrv.Stop(shutdownCtx); err != nil {
		log.Error("host control API shutdown error", zap.Error(err))
	}
	if err := stopMCP(); err != nil {
		log.Error("MCP server shutdown error", zap.Error(err))
	}

	log.Info("pwno-mcp stopped")
}

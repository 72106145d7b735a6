package mcpserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/tools"
	"github.com/pwno-io/pwno-mcp/internal/exploitpipe"
	"github.com/pwno-io/pwno-mcp/internal/subprocess"
)

// Deps bundles the components registerTools wires each tool handler to.
type Deps struct {
	Debugger     *tools.Tools
	Subprocess   *subprocess.Manager
	Pipe         *exploitpipe.Manager
	Log          *logger.Logger
	ReadyTimeout time.Duration
}

// Provide starts the MCP server and returns it alongside a stdioDone channel
// and a cleanup function, for integration with a dependency-injection-style
// main(). In Streamable HTTP mode, Start returns once the listener is up and
// stdioDone never fires. In stdio mode, Start blocks serving until stdin
// closes, so Provide runs it in its own goroutine and delivers its exit
// error on stdioDone — the caller's shutdown select should race stdioDone
// against OS signals.
func Provide(ctx context.Context, cfg Config, deps Deps) (srv *Server, stdioDone <-chan error, cleanup func() error, err error) {
	srv = New(cfg, deps, deps.Log)
	done := make(chan error, 1)

	if cfg.Stdio {
		go func() { done <- srv.Start(ctx) }()
	} else if startErr := srv.Start(ctx); startErr != nil {
		return nil, nil, nil, startErr
	} else {
		deps.Log.WithFields(zap.String("component", "mcp-server")).Info(
			"MCP server listening", zap.String("endpoint", srv.StreamableHTTPEndpoint()))
	}

	var stopOnce sync.Once
	cleanupFn := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}

	return srv, done, cleanupFn, nil
}

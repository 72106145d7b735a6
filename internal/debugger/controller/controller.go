// Package controller drives a single GDB/pwndbg subprocess over the
// machine interface (MI3). It owns the child process and its pipes
// exclusively; callers never touch the pipes directly. Each call writes
// one correlation-tokened command and returns the records tokened with
// that call's id, preceded by any untokened chatter (notifications,
// console text) buffered since the previous call completed.
package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/mi"
	"github.com/pwno-io/pwno-mcp/internal/debugger/session"
	"github.com/pwno-io/pwno-mcp/internal/tracing"
)

// Error kinds returned in CommandOutcome.Error, per the controller-level
// taxonomy.
const (
	ErrTimeout        = "timeout"
	ErrControllerDead = "controller_dead"
	ErrSpawnFailed    = "spawn_failed"
)

// CommandOutcome is what a single MI command returns to its caller.
type CommandOutcome struct {
	Command       string
	Responses     []mi.Response
	Success       bool
	Error         string
	State         session.InferiorState
	StopReason    string
	CorrelationID uint64
}

type pendingCall struct {
	responses []mi.Response
	done      chan CommandOutcome
}

// Controller owns one GDB subprocess for its entire lifetime.
type Controller struct {
	log *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex // serializes correlation-id assignment and writes
	nextID  uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall
	sidebar   []mi.Response

	state   atomic.Value // session.InferiorState
	pid     atomic.Int64
	dead    atomic.Bool
	deadErr atomic.Value // error

	stopReason atomic.Value // string

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// New constructs an unstarted Controller.
func New(log *logger.Logger) *Controller {
	c := &Controller{
		log:     log,
		pending: make(map[uint64]*pendingCall),
	}
	c.state.Store(session.StateIdle)
	c.stopReason.Store("")
	return c
}

// Start spawns the GDB child with `{gdbPath} --interpreter=mi3 --quiet`,
// starts the reader goroutine, and issues the fixed setup sequence before
// returning. Setup outcomes are logged, not returned: a setup failure
// means a misconfigured pwndbg, not a call-site error to propagate.
func (c *Controller) Start(ctx context.Context, gdbPath string) error {
	cmd := exec.Command(gdbPath, "--interpreter=mi3", "--quiet")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%s: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", ErrSpawnFailed, err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", ErrSpawnFailed, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	eg, _ := errgroup.WithContext(runCtx)
	c.eg = eg
	eg.Go(func() error {
		return c.readLoop()
	})

	for _, setupCmd := range mi.SetupCommands {
		outcome := c.send(ctx, setupCmd, 5*time.Second)
		if !outcome.Success {
			c.log.Warn("debugger setup command failed",
				zap.String("command", setupCmd),
				zap.String("error", outcome.Error),
			)
		}
	}

	return nil
}

// Err returns the reason the controller's reader goroutine stopped, or nil
// while it is still alive.
func (c *Controller) Err() error {
	if err, ok := c.deadErr.Load().(error); ok {
		return err
	}
	return nil
}

// GetState is a lock-free snapshot of the inferior state.
func (c *Controller) GetState() session.InferiorState {
	if s, ok := c.state.Load().(session.InferiorState); ok {
		return s
	}
	return session.StateIdle
}

// PID returns the last known inferior pid, or 0 if none.
func (c *Controller) PID() int {
	return int(c.pid.Load())
}

// StopReason returns the stop reason metadata recorded by the most recent
// `stopped` notification.
func (c *Controller) StopReason() string {
	if s, ok := c.stopReason.Load().(string); ok {
		return s
	}
	return ""
}

// ExecuteMI sends an MI command (one beginning with '-') and waits for its
// terminating result.
func (c *Controller) ExecuteMI(ctx context.Context, text string, timeout time.Duration) CommandOutcome {
	return c.send(ctx, text, timeout)
}

// ExecuteConsole sends a CLI/console command through the MI channel (GDB
// accepts un-dashed text as a console command) and waits for its
// terminating result.
func (c *Controller) ExecuteConsole(ctx context.Context, text string, timeout time.Duration) CommandOutcome {
	return c.send(ctx, text, timeout)
}

func (c *Controller) send(ctx context.Context, text string, timeout time.Duration) CommandOutcome {
	if c.dead.Load() {
		return CommandOutcome{Command: text, Success: false, Error: ErrControllerDead, State: c.GetState()}
	}

	c.writeMu.Lock()
	c.nextID++
	cid := c.nextID
	spanCtx, span := tracing.TraceMICommand(ctx, cid, text)
	defer span.End()
	call := &pendingCall{done: make(chan CommandOutcome, 1)}

	c.pendingMu.Lock()
	c.pending[cid] = call
	c.pendingMu.Unlock()

	line := strconv.FormatUint(cid, 10) + text + "\n"
	_, writeErr := io.WriteString(c.stdin, line)
	c.writeMu.Unlock()

	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, cid)
		c.pendingMu.Unlock()
		c.markDead(writeErr)
		return CommandOutcome{Command: text, Success: false, Error: ErrControllerDead, State: c.GetState(), CorrelationID: cid}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case outcome := <-call.done:
		outcome.Command = text
		outcome.CorrelationID = cid
		tracing.TraceMIResult(span, outcome.Success, outcome.Error, string(outcome.State))
		return outcome
	case <-deadline.C:
		c.pendingMu.Lock()
		delete(c.pending, cid)
		c.pendingMu.Unlock()
		outcome := CommandOutcome{Command: text, Success: false, Error: ErrTimeout, State: c.GetState(), CorrelationID: cid}
		tracing.TraceMIResult(span, false, ErrTimeout, string(outcome.State))
		return outcome
	case <-spanCtx.Done():
		c.pendingMu.Lock()
		delete(c.pending, cid)
		c.pendingMu.Unlock()
		outcome := CommandOutcome{Command: text, Success: false, Error: spanCtx.Err().Error(), State: c.GetState(), CorrelationID: cid}
		tracing.TraceMIResult(span, false, outcome.Error, string(outcome.State))
		return outcome
	}
}

// readLoop is the controller's single background task: it reads MI
// records line by line, routes tokened results to their waiting caller,
// applies notify-driven state transitions, and stashes untokened chatter
// in the sidebar buffer for the next completing call.
func (c *Controller) readLoop() error {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		resp := mi.ParseLine(scanner.Text())
		c.route(resp)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.markDead(err)
	return err
}

func (c *Controller) route(resp mi.Response) {
	if resp.Kind == mi.KindNotify {
		c.applyNotify(resp)
	}

	if !resp.HasToken {
		c.pendingMu.Lock()
		c.sidebar = append(c.sidebar, resp)
		c.pendingMu.Unlock()
		return
	}

	c.pendingMu.Lock()
	call, ok := c.pending[resp.CorrelationID]
	if !ok {
		c.pendingMu.Unlock()
		return
	}
	call.responses = append(call.responses, resp)

	if resp.Kind != mi.KindResult {
		c.pendingMu.Unlock()
		return
	}

	delete(c.pending, resp.CorrelationID)
	sidebar := c.sidebar
	c.sidebar = nil
	c.pendingMu.Unlock()

	outcome := CommandOutcome{
		Responses: append(sidebar, call.responses...),
		Success:   resp.Class == "done" || resp.Class == "running",
		State:     c.GetState(),
	}
	if resp.Class == "error" {
		outcome.Error = extractErrorMessage(resp)
	}
	call.done <- outcome
}

func (c *Controller) applyNotify(resp mi.Response) {
	switch resp.Class {
	case "running":
		c.state.Store(session.StateRunning)
	case "stopped":
		c.state.Store(session.StateStopped)
		if reason, ok := resp.Payload["reason"].(string); ok {
			c.stopReason.Store(reason)
		}
	case "thread-group-started":
		if pidStr, ok := resp.Payload["pid"].(string); ok {
			if pid, err := strconv.Atoi(pidStr); err == nil {
				c.pid.Store(int64(pid))
			}
		}
	case "thread-group-exited":
		c.state.Store(session.StateExited)
	}
}

func extractErrorMessage(resp mi.Response) string {
	if msg, ok := resp.Payload["msg"].(string); ok {
		return msg
	}
	return "error"
}

func (c *Controller) markDead(err error) {
	if !c.dead.CompareAndSwap(false, true) {
		return
	}
	c.deadErr.Store(err)

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.pendingMu.Unlock()

	for _, call := range pending {
		call.done <- CommandOutcome{Success: false, Error: ErrControllerDead, State: c.GetState()}
	}
}

// Stop terminates the GDB subprocess and its reader goroutine.
func (c *Controller) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	if c.eg != nil {
		_ = c.eg.Wait()
	}
	if c.cmd != nil {
		return c.cmd.Wait()
	}
	return nil
}

// Package tools adapts DebuggerController primitives into the operations
// the request surface exposes, and maintains the SessionState record. It
// does no console-text parsing beyond what the controller already
// supplies.
package tools

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
	"github.com/pwno-io/pwno-mcp/internal/debugger/mi"
	"github.com/pwno-io/pwno-mcp/internal/debugger/session"
)

// Error kinds per the precondition/validation taxonomy.
const (
	ErrNoBinary    = "no_binary"
	ErrBadState    = "bad_state"
	ErrUnknownStep = "unknown_step"
)

// Tools wires a Controller and a Session together for one debugging
// session.
type Tools struct {
	ctrl          *controller.Controller
	sess          *session.Session
	timeout       time.Duration
	quickCtxBytes int
}

// New constructs Tools over an already-started Controller.
func New(ctrl *controller.Controller, sess *session.Session, timeout time.Duration, quickContextBytes int) *Tools {
	return &Tools{ctrl: ctrl, sess: sess, timeout: timeout, quickCtxBytes: quickContextBytes}
}

// Execute runs a raw command through the console channel, for callers that
// want the generic escape hatch rather than a named tool-level operation.
func (t *Tools) Execute(ctx context.Context, command string) controller.CommandOutcome {
	return t.ctrl.ExecuteConsole(ctx, command, t.timeout)
}

// Alive reports whether the underlying GDB child is still reachable.
func (t *Tools) Alive() bool {
	return t.ctrl.Err() == nil
}

// SetFile loads a binary for debugging.
func (t *Tools) SetFile(ctx context.Context, path string) controller.CommandOutcome {
	outcome := t.ctrl.ExecuteMI(ctx, mi.LoadFile(path), t.timeout)
	if outcome.Success {
		t.sess.SetBinaryLoaded(path)
	}
	return outcome
}

// AttachResult bundles the attach CommandOutcome with the post-attach
// quick-context snapshot.
type AttachResult struct {
	Outcome controller.CommandOutcome
	Context QuickContext
}

// Attach attaches to a running process by pid. On success it stores the
// pid, transitions to stopped, and collects a quick-context snapshot.
func (t *Tools) Attach(ctx context.Context, pid int) AttachResult {
	outcome := t.ctrl.ExecuteMI(ctx, mi.Attach(pid), t.timeout)
	if !outcome.Success {
		return AttachResult{Outcome: outcome}
	}
	t.sess.SetPID(pid)
	t.sess.SetInferiorState(session.StateStopped)
	return AttachResult{Outcome: outcome, Context: t.GetQuickContext(ctx)}
}

// Run starts the inferior. It fails with no_binary if no binary is
// loaded.
func (t *Tools) Run(ctx context.Context, args string, start bool) controller.CommandOutcome {
	if !t.sess.BinaryLoaded() {
		return controller.CommandOutcome{Success: false, Error: ErrNoBinary, State: t.sess.CurrentState()}
	}
	if args != "" {
		argOutcome := t.ctrl.ExecuteMI(ctx, mi.ExecArguments(args), t.timeout)
		if !argOutcome.Success {
			return argOutcome
		}
	}
	return t.ctrl.ExecuteMI(ctx, mi.ExecRun(start), t.timeout)
}

// StepControl executes a step alias ({c,n,s,ni,si} or their long forms).
// Rejects unknown aliases and any call when the inferior is not stopped.
func (t *Tools) StepControl(ctx context.Context, alias string) controller.CommandOutcome {
	kind, ok := mi.CanonicalStep(alias)
	if !ok {
		return controller.CommandOutcome{Success: false, Error: ErrUnknownStep, State: t.sess.CurrentState()}
	}
	if t.sess.CurrentState() != session.StateStopped {
		return controller.CommandOutcome{Success: false, Error: ErrBadState, State: t.sess.CurrentState()}
	}
	return t.ctrl.ExecuteMI(ctx, mi.StepCommand(kind), t.timeout)
}

// Finish, Jump, ReturnFromFunction, Until all require the inferior to be
// stopped.
func (t *Tools) Finish(ctx context.Context) controller.CommandOutcome {
	return t.requireStopped(ctx, mi.ExecFinish())
}

func (t *Tools) Jump(ctx context.Context, loc string) controller.CommandOutcome {
	return t.requireStopped(ctx, mi.ExecJump(loc))
}

func (t *Tools) ReturnFromFunction(ctx context.Context) controller.CommandOutcome {
	return t.requireStopped(ctx, mi.ExecReturn())
}

func (t *Tools) Until(ctx context.Context, loc string) controller.CommandOutcome {
	return t.requireStopped(ctx, mi.ExecUntil(loc))
}

func (t *Tools) requireStopped(ctx context.Context, command string) controller.CommandOutcome {
	if t.sess.CurrentState() != session.StateStopped {
		return controller.CommandOutcome{Success: false, Error: ErrBadState, State: t.sess.CurrentState()}
	}
	return t.ctrl.ExecuteMI(ctx, command, t.timeout)
}

// Interrupt issues -exec-interrupt to stop a running inferior. This is a
// regular serialized command, not an out-of-band signal.
func (t *Tools) Interrupt(ctx context.Context) controller.CommandOutcome {
	return t.ctrl.ExecuteMI(ctx, mi.ExecInterrupt(), t.timeout)
}

// QuickContext bundles the three MI queries get_quick_context composes.
type QuickContext struct {
	Registers controller.CommandOutcome
	Stack     controller.CommandOutcome
	Disasm    controller.CommandOutcome
}

// GetQuickContext is the fast-path context snapshot: registers, stack
// frames, and a short disassembly window around $pc.
func (t *Tools) GetQuickContext(ctx context.Context) QuickContext {
	return QuickContext{
		Registers: t.ctrl.ExecuteMI(ctx, mi.DataListRegisterValues(), t.timeout),
		Stack:     t.ctrl.ExecuteMI(ctx, mi.StackListFrames(), t.timeout),
		Disasm:    t.ctrl.ExecuteMI(ctx, mi.DataDisassemble(t.quickCtxBytes), t.timeout),
	}
}

// ContextResult is either a QuickContext (kind="all") or a single
// CommandOutcome from the console context family.
type ContextResult struct {
	Quick   *QuickContext
	Console *controller.CommandOutcome
}

// GetContext dispatches kind="all" to the quick path; every other kind
// goes through the console `context {kind}` command, passed through
// verbatim (no re-rendering of pwndbg's own output).
func (t *Tools) GetContext(ctx context.Context, kind string) ContextResult {
	if t.sess.CurrentState() != session.StateStopped {
		outcome := controller.CommandOutcome{Success: false, Error: ErrBadState, State: t.sess.CurrentState()}
		return ContextResult{Console: &outcome}
	}
	if kind == "all" {
		qc := t.GetQuickContext(ctx)
		return ContextResult{Quick: &qc}
	}
	outcome := t.ctrl.ExecuteConsole(ctx, mi.ContextConsole(kind), t.timeout)
	return ContextResult{Console: &outcome}
}

// SetBreakpoint inserts a breakpoint, updates SessionState from GDB's
// returned bkpt payload (GDB is the source of truth, never a local
// synthesis), and returns the outcome.
func (t *Tools) SetBreakpoint(ctx context.Context, location, condition string) controller.CommandOutcome {
	outcome := t.ctrl.ExecuteMI(ctx, mi.BreakInsert(location, condition), t.timeout)
	if outcome.Success {
		if bp, ok := extractBreakpoint(outcome); ok {
			t.sess.UpsertBreakpoint(bp)
		}
	}
	return outcome
}

// ListBreakpoints refreshes SessionState's breakpoint table from GDB and
// returns the raw outcome.
func (t *Tools) ListBreakpoints(ctx context.Context) controller.CommandOutcome {
	outcome := t.ctrl.ExecuteMI(ctx, mi.BreakList(), t.timeout)
	if outcome.Success {
		if bps, ok := extractBreakpointTable(outcome); ok {
			t.sess.ReplaceBreakpoints(bps)
		}
	}
	return outcome
}

func (t *Tools) DeleteBreakpoint(ctx context.Context, number int) controller.CommandOutcome {
	outcome := t.ctrl.ExecuteMI(ctx, mi.BreakDelete(number), t.timeout)
	if outcome.Success {
		t.sess.DeleteBreakpoint(number)
	}
	return outcome
}

func (t *Tools) EnableBreakpoint(ctx context.Context, number int) controller.CommandOutcome {
	return t.ctrl.ExecuteMI(ctx, mi.BreakEnable(number), t.timeout)
}

func (t *Tools) DisableBreakpoint(ctx context.Context, number int) controller.CommandOutcome {
	return t.ctrl.ExecuteMI(ctx, mi.BreakDisable(number), t.timeout)
}

// MemoryResult is the normalized return of GetMemory: raw bytes for hex;
// for string and grid reads only the outcome is set and Bytes is empty.
type MemoryResult struct {
	Outcome controller.CommandOutcome
	Bytes   []byte
}

// GetMemory reads size bytes at addr. hex decodes -data-read-memory-bytes'
// contents field into raw bytes; string issues `x/s`; anything else reads
// a grid with 1-byte words.
func (t *Tools) GetMemory(ctx context.Context, addr string, size int, format string) MemoryResult {
	if size == 0 {
		return MemoryResult{Outcome: controller.CommandOutcome{Success: true, State: t.sess.CurrentState()}}
	}
	switch format {
	case "hex":
		outcome := t.ctrl.ExecuteMI(ctx, mi.DataReadMemoryBytes(addr, size), t.timeout)
		result := MemoryResult{Outcome: outcome}
		if outcome.Success {
			result.Bytes = extractMemoryBytes(outcome)
		}
		return result
	case "string":
		outcome := t.ctrl.ExecuteConsole(ctx, mi.ExamineString(addr), t.timeout)
		return MemoryResult{Outcome: outcome}
	default:
		outcome := t.ctrl.ExecuteMI(ctx, mi.DataReadMemoryGrid(addr, format, 1, 1, size), t.timeout)
		return MemoryResult{Outcome: outcome}
	}
}

// GetSessionInfo returns the current session snapshot.
func (t *Tools) GetSessionInfo() session.State {
	return t.sess.Snapshot()
}

// extractBreakpoint pulls the bkpt substructure out of a -break-insert
// result payload.
func extractBreakpoint(outcome controller.CommandOutcome) (session.Breakpoint, bool) {
	for _, r := range outcome.Responses {
		if r.Payload == nil {
			continue
		}
		raw, ok := r.Payload["bkpt"].(map[string]any)
		if !ok {
			continue
		}
		return breakpointFromPayload(raw), true
	}
	return session.Breakpoint{}, false
}

func extractBreakpointTable(outcome controller.CommandOutcome) (map[int]session.Breakpoint, bool) {
	for _, r := range outcome.Responses {
		if r.Payload == nil {
			continue
		}
		tableVal, ok := r.Payload["BreakpointTable"].(map[string]any)
		if !ok {
			continue
		}
		body, ok := tableVal["body"].([]any)
		if !ok {
			continue
		}
		out := make(map[int]session.Breakpoint)
		for _, item := range body {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			bp := breakpointFromPayload(entry)
			out[bp.Number] = bp
		}
		return out, true
	}
	return nil, false
}

func breakpointFromPayload(m map[string]any) session.Breakpoint {
	bp := session.Breakpoint{}
	if v, ok := m["number"].(string); ok {
		fmt.Sscanf(v, "%d", &bp.Number)
	}
	if v, ok := m["original-location"].(string); ok {
		bp.Location = v
	} else if v, ok := m["func"].(string); ok {
		bp.Location = v
	}
	if v, ok := m["addr"].(string); ok {
		bp.Address = v
	}
	if v, ok := m["enabled"].(string); ok {
		bp.Enabled = v == "y"
	}
	if v, ok := m["cond"].(string); ok {
		bp.Condition = v
	}
	if v, ok := m["times"].(string); ok {
		fmt.Sscanf(v, "%d", &bp.HitCount)
	}
	return bp
}

// extractMemoryBytes decodes -data-read-memory-bytes' "contents" hex
// string into raw bytes.
func extractMemoryBytes(outcome controller.CommandOutcome) []byte {
	for _, r := range outcome.Responses {
		if r.Payload == nil {
			continue
		}
		memoryList, ok := r.Payload["memory"].([]any)
		if !ok || len(memoryList) == 0 {
			continue
		}
		block, ok := memoryList[0].(map[string]any)
		if !ok {
			continue
		}
		contents, ok := block["contents"].(string)
		if !ok {
			continue
		}
		decoded, err := hex.DecodeString(contents)
		if err != nil {
			return nil
		}
		return decoded
	}
	return nil
}

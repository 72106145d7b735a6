package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
	"github.com/pwno-io/pwno-mcp/internal/debugger/session"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger.NewLogger: %v", err)
	}
	return log
}

// startFakeController spawns a Controller against a tiny shell script that
// ack's every tokened command with ^done, so SetupCommands succeeds and
// subsequent ExecuteMI calls return success without needing real pwndbg.
func startFakeController(t *testing.T) *controller.Controller {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-gdb.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  token=$(printf '%s' "$line" | grep -o '^[0-9]*')
  printf '%s^done\n' "$token"
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake gdb script: %v", err)
	}

	c := controller.New(newTestLogger(t))
	if err := c.Start(context.Background(), path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestRunFailsWithoutBinaryLoaded(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	outcome := tl.Run(context.Background(), "", false)
	if outcome.Success {
		t.Fatalf("expected failure when no binary is loaded")
	}
	if outcome.Error != ErrNoBinary {
		t.Fatalf("Error = %q, want %q", outcome.Error, ErrNoBinary)
	}
}

func TestRunSucceedsAfterSetFile(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	setOutcome := tl.SetFile(context.Background(), "/tmp/target")
	if !setOutcome.Success {
		t.Fatalf("SetFile failed: %+v", setOutcome)
	}

	outcome := tl.Run(context.Background(), "", true)
	if !outcome.Success {
		t.Fatalf("Run failed: %+v", outcome)
	}
}

func TestStepControlRejectsUnknownAlias(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	outcome := tl.StepControl(context.Background(), "bogus")
	if outcome.Success || outcome.Error != ErrUnknownStep {
		t.Fatalf("outcome = %+v, want unknown_step", outcome)
	}
}

func TestStepControlRejectsWhenNotStopped(t *testing.T) {
	sess := session.New("sess") // starts idle, not stopped
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	outcome := tl.StepControl(context.Background(), "next")
	if outcome.Success || outcome.Error != ErrBadState {
		t.Fatalf("outcome = %+v, want bad_state", outcome)
	}
}

func TestStepControlSucceedsWhenStopped(t *testing.T) {
	sess := session.New("sess")
	sess.SetInferiorState(session.StateStopped)
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	outcome := tl.StepControl(context.Background(), "c")
	if !outcome.Success {
		t.Fatalf("StepControl failed: %+v", outcome)
	}
}

func TestFinishJumpReturnUntilRequireStopped(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	for name, call := range map[string]func() controller.CommandOutcome{
		"Finish":             func() controller.CommandOutcome { return tl.Finish(context.Background()) },
		"Jump":               func() controller.CommandOutcome { return tl.Jump(context.Background(), "*0x1000") },
		"ReturnFromFunction": func() controller.CommandOutcome { return tl.ReturnFromFunction(context.Background()) },
		"Until":              func() controller.CommandOutcome { return tl.Until(context.Background(), "") },
	} {
		outcome := call()
		if outcome.Success || outcome.Error != ErrBadState {
			t.Fatalf("%s: outcome = %+v, want bad_state", name, outcome)
		}
	}
}

func TestGetContextRejectsWhenNotStopped(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	result := tl.GetContext(context.Background(), "all")
	if result.Console == nil || result.Console.Success {
		t.Fatalf("expected bad_state console outcome, got %+v", result)
	}
}

func TestGetMemoryZeroSizeShortCircuits(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	result := tl.GetMemory(context.Background(), "0x1000", 0, "hex")
	if !result.Outcome.Success {
		t.Fatalf("zero-size read should trivially succeed, got %+v", result.Outcome)
	}
	if len(result.Bytes) != 0 {
		t.Fatalf("expected no bytes for a zero-size read")
	}
}

func TestGetSessionInfoReflectsMutations(t *testing.T) {
	sess := session.New("sess")
	tl := New(startFakeController(t), sess, 2*time.Second, 32)

	tl.SetFile(context.Background(), "/tmp/target")
	info := tl.GetSessionInfo()
	if !info.BinaryLoaded || info.BinaryPath != "/tmp/target" {
		t.Fatalf("GetSessionInfo = %+v", info)
	}
}

func TestAliveReflectsControllerLifecycle(t *testing.T) {
	sess := session.New("sess")
	ctrl := startFakeController(t)
	tl := New(ctrl, sess, 2*time.Second, 32)

	if !tl.Alive() {
		t.Fatalf("expected Alive() to be true right after Start")
	}
}

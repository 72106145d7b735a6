// Package subprocess manages auxiliary child processes started alongside
// the debugger — compilation steps, exploit scaffolding, background
// listeners. It is independent of the debugger controller: these are not
// the inferior, they are tooling the agent runs next to it.
//
// Long-running output is redirected to temp files rather than held in
// memory, so a process that is never retrieved can't grow the service's
// memory unbounded. Process-group based kill-on-stop (Setpgid + negative
// pgid signal) ensures an exploit's whole child tree goes down with it.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/tracing"
)

// Status is the lifecycle state of a tracked process.
type Status string

const (
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
)

// Error kinds per the subprocess-level taxonomy.
const (
	ErrProcessNotFound = "process_not_found"
	ErrSpawnFailed     = "spawn_failed"
	ErrTimeout         = "timeout"
)

// RunOutcome is the result of a synchronous run() call.
type RunOutcome struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	Success    bool
	Error      string
}

// SpawnOutcome is the result of an asynchronous spawn() call.
type SpawnOutcome struct {
	PID        int
	StdoutPath string
	StderrPath string
	// Terminal is set when the child already exited during the post-spawn
	// settle window; ReturnCode/Stdout/Stderr are then populated from the
	// now-final log files so the caller doesn't need a second round trip.
	Terminal   bool
	ReturnCode int
	Stdout     string
	Stderr     string
}

// TrackedProcess is the public view of one entry in the manager. Stdout and
// Stderr are only populated once Status is StatusTerminated, when Get reads
// back the now-final log files.
type TrackedProcess struct {
	PID        int
	Command    string
	Cwd        string
	StdoutPath string
	StderrPath string
	Status     Status
	ReturnCode *int
	Stdout     string
	Stderr     string
}

type trackedEntry struct {
	mu         sync.Mutex
	info       TrackedProcess
	cmd        *exec.Cmd
	stdoutFile *os.File
	stderrFile *os.File
	exited     chan struct{}
}

// Manager tracks auxiliary processes spawned on behalf of tool calls.
type Manager struct {
	log    *logger.Logger
	logDir string

	spawnSettle time.Duration

	mu        sync.RWMutex
	processes map[int]*trackedEntry
}

// New creates a Manager. logDir overrides the directory tracked-process
// logs are written under; empty means os.TempDir(). spawnSettle is the
// post-spawn pause used to catch immediate failures in a single call.
func New(log *logger.Logger, logDir string, spawnSettle time.Duration) *Manager {
	if logDir == "" {
		logDir = os.TempDir()
	}
	return &Manager{
		log:         log.WithFields(zap.String("component", "subprocess-manager")),
		logDir:      logDir,
		spawnSettle: spawnSettle,
		processes:   make(map[int]*trackedEntry),
	}
}

// Run executes a command synchronously and returns its full output.
// Timeout yields success=false, error="timeout".
func (m *Manager) Run(ctx context.Context, command, cwd string, env map[string]string, timeout time.Duration) RunOutcome {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, span := tracing.TraceSubprocess(runCtx, "run", "")
	defer span.End()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = mergeEnv(env)

	stdout, stderr, err := runCombined(cmd)
	if runCtx.Err() == context.DeadlineExceeded {
		return RunOutcome{Success: false, Error: ErrTimeout, Stdout: stdout, Stderr: stderr}
	}
	if err != nil {
		return RunOutcome{
			ReturnCode: exitCode(err),
			Stdout:     stdout,
			Stderr:     stderr,
			Success:    false,
			Error:      err.Error(),
		}
	}
	return RunOutcome{ReturnCode: 0, Stdout: stdout, Stderr: stderr, Success: true}
}

func runCombined(cmd *exec.Cmd) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Spawn starts a background process, redirecting stdout/stderr to temp
// files named pwno_stdout_<id>.log / pwno_stderr_<id>.log. After spawning
// it waits spawnSettle and, if the child already exited, returns the
// terminal outcome directly.
func (m *Manager) Spawn(ctx context.Context, command, cwd string, env map[string]string) (SpawnOutcome, error) {
	_, span := tracing.TraceSubprocess(ctx, "spawn", "")
	defer span.End()

	id := uuid.New().String()
	stdoutPath := filepath.Join(m.logDir, fmt.Sprintf("pwno_stdout_%s.log", id))
	stderrPath := filepath.Join(m.logDir, fmt.Sprintf("pwno_stderr_%s.log", id))

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return SpawnOutcome{}, fmt.Errorf("%s: %w", ErrSpawnFailed, err)
	}
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		_ = stdoutFile.Close()
		return SpawnOutcome{}, fmt.Errorf("%s: %w", ErrSpawnFailed, err)
	}

	cmd := exec.Command("sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = mergeEnv(env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return SpawnOutcome{}, fmt.Errorf("%s: %w", ErrSpawnFailed, err)
	}

	entry := &trackedEntry{
		info: TrackedProcess{
			PID:        cmd.Process.Pid,
			Command:    command,
			Cwd:        cwd,
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
			Status:     StatusRunning,
		},
		cmd:        cmd,
		stdoutFile: stdoutFile,
		stderrFile: stderrFile,
		exited:     make(chan struct{}),
	}

	m.mu.Lock()
	m.processes[entry.info.PID] = entry
	m.mu.Unlock()

	go m.wait(entry)

	select {
	case <-time.After(m.spawnSettle):
	case <-entry.exited:
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.info.Status == StatusTerminated {
		stdout, stderr := readLogs(stdoutPath, stderrPath)
		rc := 0
		if entry.info.ReturnCode != nil {
			rc = *entry.info.ReturnCode
		}
		return SpawnOutcome{
			PID:        entry.info.PID,
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
			Terminal:   true,
			ReturnCode: rc,
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}

	return SpawnOutcome{PID: entry.info.PID, StdoutPath: stdoutPath, StderrPath: stderrPath}, nil
}

func (m *Manager) wait(entry *trackedEntry) {
	err := entry.cmd.Wait()

	entry.mu.Lock()
	rc := 0
	if err != nil {
		rc = exitCode(err)
	}
	entry.info.Status = StatusTerminated
	entry.info.ReturnCode = &rc
	_ = entry.stdoutFile.Close()
	_ = entry.stderrFile.Close()
	entry.mu.Unlock()

	close(entry.exited)

	m.log.Debug("tracked process exited",
		zap.Int("pid", entry.info.PID),
		zap.Int("returncode", rc),
	)
}

// Get retrieves a tracked process by pid. If the process has terminated,
// the log files are already closed (see wait), so Get reads their final
// contents into the returned view's Stdout/Stderr fields, then removes the
// entry so a subsequent Get/List no longer sees it — this preserves
// post-mortem log access for exactly one read.
func (m *Manager) Get(pid int) (TrackedProcess, bool) {
	m.mu.RLock()
	entry, ok := m.processes[pid]
	m.mu.RUnlock()
	if !ok {
		return TrackedProcess{}, false
	}

	entry.mu.Lock()
	info := entry.info
	terminal := info.Status == StatusTerminated
	entry.mu.Unlock()

	if terminal {
		info.Stdout, info.Stderr = readLogs(info.StdoutPath, info.StderrPath)
		m.mu.Lock()
		delete(m.processes, pid)
		m.mu.Unlock()
	}
	return info, true
}

// Kill sends a signal to the process group. The map entry is not dropped;
// a subsequent Get reads the final output files and removes the entry.
func (m *Manager) Kill(pid int, sig syscall.Signal) error {
	m.mu.RLock()
	entry, ok := m.processes[pid]
	m.mu.RUnlock()
	if !ok {
		return errors.New(ErrProcessNotFound)
	}

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if sigErr := entry.cmd.Process.Signal(sig); sigErr != nil {
			return sigErr
		}
		return nil
	}
	return syscall.Kill(-pgid, sig)
}

// List returns a snapshot of every tracked process, terminated or not.
// It does not itself garbage-collect terminated entries: doing so here
// would race a caller that lists before it gets a just-terminated pid,
// dropping the entry before Get ever reads its final output. Draining
// happens on Get instead, where it can't race a concurrent List.
func (m *Manager) List() []TrackedProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TrackedProcess, 0, len(m.processes))
	for _, entry := range m.processes {
		entry.mu.Lock()
		out = append(out, entry.info)
		entry.mu.Unlock()
	}
	return out
}

func readLogs(stdoutPath, stderrPath string) (stdout, stderr string) {
	if b, err := os.ReadFile(stdoutPath); err == nil {
		stdout = string(b)
	}
	if b, err := os.ReadFile(stderrPath); err == nil {
		stderr = string(b)
	}
	return stdout, stderr
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus()
		}
	}
	return 1
}

// mergeEnv merges custom environment variables with the parent process
// environment, custom entries taking precedence.
func mergeEnv(env map[string]string) []string {
	base := make(map[string]string, len(os.Environ())+len(env))
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range env {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, k+"="+v)
	}
	return merged
}


package subprocess

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwno-io/pwno-mcp/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestRunCapturesOutputAndReturnCode(t *testing.T) {
	m := New(newTestLogger(t), t.TempDir(), 100*time.Millisecond)

	outcome := m.Run(context.Background(), "echo hello; echo world >&2; exit 3", "", nil, 2*time.Second)

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.ReturnCode)
	assert.Equal(t, "hello\n", outcome.Stdout)
	assert.Equal(t, "world\n", outcome.Stderr)
}

func TestRunTimesOut(t *testing.T) {
	m := New(newTestLogger(t), t.TempDir(), 100*time.Millisecond)

	outcome := m.Run(context.Background(), "sleep 5", "", nil, 50*time.Millisecond)

	assert.False(t, outcome.Success)
	assert.Equal(t, ErrTimeout, outcome.Error)
}

func TestSpawnTracksLongRunningProcess(t *testing.T) {
	m := New(newTestLogger(t), t.TempDir(), 100*time.Millisecond)

	outcome, err := m.Spawn(context.Background(), "echo hello; echo world >&2; sleep 30", "", nil)
	require.NoError(t, err)
	require.False(t, outcome.Terminal)
	require.Greater(t, outcome.PID, 0)

	proc, ok := m.Get(outcome.PID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, proc.Status)

	// Get() must not drop a still-running entry.
	list := m.List()
	found := false
	for _, p := range list {
		if p.PID == outcome.PID {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, m.Kill(outcome.PID, syscall.SIGTERM))

	var final TrackedProcess
	require.Eventually(t, func() bool {
		proc, ok := m.Get(outcome.PID)
		if !ok || proc.Status != StatusTerminated {
			return false
		}
		final = proc
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// The terminal Get must surface the captured output, not just the paths.
	assert.Equal(t, "hello\n", final.Stdout)
	assert.Equal(t, "world\n", final.Stderr)

	// A subsequent Get drains the entry; List must no longer include it.
	for _, p := range m.List() {
		assert.NotEqual(t, outcome.PID, p.PID)
	}
}

func TestSpawnCapturesImmediateFailure(t *testing.T) {
	m := New(newTestLogger(t), t.TempDir(), 200*time.Millisecond)

	outcome, err := m.Spawn(context.Background(), "echo boom >&2; exit 1", "", nil)
	require.NoError(t, err)

	assert.True(t, outcome.Terminal)
	assert.Equal(t, 1, outcome.ReturnCode)
	assert.Equal(t, "boom\n", outcome.Stderr)
}

func TestKillUnknownPidReturnsProcessNotFound(t *testing.T) {
	m := New(newTestLogger(t), t.TempDir(), 50*time.Millisecond)

	err := m.Kill(999999, syscall.SIGTERM)
	require.Error(t, err)
	assert.Equal(t, ErrProcessNotFound, err.Error())
}

func TestSpawnWritesLogFilesUnderLogDir(t *testing.T) {
	dir := t.TempDir()
	m := New(newTestLogger(t), dir, 150*time.Millisecond)

	outcome, err := m.Spawn(context.Background(), "echo from-file", "", nil)
	require.NoError(t, err)

	_, statErr := os.Stat(outcome.StdoutPath)
	assert.NoError(t, statErr)
}

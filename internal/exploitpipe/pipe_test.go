package exploitpipe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
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

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestStartClassifiesAttachMarker(t *testing.T) {
	script := writeScript(t, `
import sys
print('PWNCLI_ATTACH_RESULT:{"successful": true, "pid": 123}')
sys.stdout.flush()
sys.stdin.readline()
`)
	m := NewManager(newTestLogger(t))
	p, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)
	defer p.kill()

	cond := p.WaitReady(2 * time.Second)
	assert.Equal(t, ReadyAttached, cond)

	result, ok := p.AttachResult()
	require.True(t, ok)
	assert.Equal(t, true, result["successful"])
	assert.Equal(t, float64(123), result["pid"])
}

func TestStartClassifiesIPCMarker(t *testing.T) {
	script := writeScript(t, `
import sys
print('PWNO_IPC:{"event": "leak", "value": "0xdeadbeef"}')
sys.stdout.flush()
sys.stdin.readline()
`)
	m := NewManager(newTestLogger(t))
	p, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)
	defer p.kill()

	var events []Event
	require.Eventually(t, func() bool {
		events = append(events, p.ReleaseEvents()...)
		for _, ev := range events {
			if ev.Kind == EventIPC {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	var ipc Event
	for _, ev := range events {
		if ev.Kind == EventIPC {
			ipc = ev
		}
	}
	assert.Equal(t, "leak", ipc.IPC["event"])
	assert.Equal(t, "0xdeadbeef", ipc.IPC["value"])

	// A marker classified as IPC must never also land in the raw queue.
	assert.Empty(t, p.Release())
}

func TestReleaseDrainsOnlyNewOutput(t *testing.T) {
	script := writeScript(t, `
import sys
print("line one")
sys.stdout.flush()
sys.stdin.readline()
print("line two")
sys.stdout.flush()
sys.stdin.readline()
`)
	m := NewManager(newTestLogger(t))
	p, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)
	defer p.kill()

	require.Equal(t, ReadyOutput, p.WaitReady(2*time.Second))
	first := p.Release()
	assert.Contains(t, first, "line one")

	// A second immediate release must not repeat the first line's bytes.
	second := p.Release()
	assert.NotContains(t, second, "line one")

	require.NoError(t, p.Send([]byte("go\n")))
	require.Eventually(t, func() bool {
		return strings.Contains(p.Release(), "line two")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartKillsPriorPipe(t *testing.T) {
	script := writeScript(t, `
import sys
print('PWNCLI_ATTACH_RESULT:{"successful": true, "pid": 1}')
sys.stdout.flush()
sys.stdin.readline()
`)
	m := NewManager(newTestLogger(t))
	first, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)

	second, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)
	defer second.kill()

	require.Eventually(t, func() bool {
		return !first.Alive()
	}, 2*time.Second, 10*time.Millisecond, "starting a new pipe must kill the prior one")

	assert.Same(t, second, m.Current())
}

func TestSendOnDeadPipeReturnsError(t *testing.T) {
	script := writeScript(t, `
import sys
sys.exit(0)
`)
	m := NewManager(newTestLogger(t))
	p, err := m.Start(context.Background(), script, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !p.Alive()
	}, 2*time.Second, 10*time.Millisecond)

	err = p.Send([]byte("x"))
	require.Error(t, err)
	assert.Equal(t, ErrPipeDead, err.Error())
}

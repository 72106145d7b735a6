package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwno-io/pwno-mcp/internal/common/config"
	"github.com/pwno-io/pwno-mcp/internal/common/logger"
	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
	"github.com/pwno-io/pwno-mcp/internal/debugger/session"
	"github.com/pwno-io/pwno-mcp/internal/debugger/tools"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

// writeFakeGDB writes a shell script that acks every tokened command with
// ^done, enough to exercise the attach orchestration without a real GDB.
func writeFakeGDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-gdb.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  token=$(printf '%s' "$line" | grep -o '^[0-9]*')
  printf '%s^done\n' "$token"
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestTools(t *testing.T) *tools.Tools {
	t.Helper()
	log := newTestLogger(t)
	ctrl := controller.New(log)
	require.NoError(t, ctrl.Start(context.Background(), writeFakeGDB(t)))
	t.Cleanup(func() { _ = ctrl.Stop() })
	sess := session.New("test-session")
	return tools.New(ctrl, sess, 2*time.Second, 256)
}

func noAuth() config.AuthConfig {
	return config.AuthConfig{Disabled: true}
}

func TestHealthReportsComponents(t *testing.T) {
	srv := New(Config{Workspace: "/workspace"}, noAuth(), newTestTools(t), nil, nil, newTestLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "/workspace", body["workspace"])
	components, ok := body["components"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "up", components["debugger"])
}

func TestAttachRejectsInvalidPID(t *testing.T) {
	srv := New(Config{}, noAuth(), newTestTools(t), nil, nil, newTestLogger(t))

	body, _ := json.Marshal(map[string]any{"pid": 0})
	req := httptest.NewRequest(http.MethodPost, "/attach", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachOrchestratesPreAndAfterCommands(t *testing.T) {
	srv := New(Config{}, noAuth(), newTestTools(t), nil, nil, newTestLogger(t))

	payload := map[string]any{
		"pre":   []string{"info registers"},
		"pid":   1234,
		"after": []string{"bt"},
		"where": "/bin/ls",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/attach", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp attachResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Successful)
	assert.Contains(t, resp.Result, "set-file")
	assert.Contains(t, resp.Result, "info registers")
	assert.Contains(t, resp.Result, "bt")
}

func TestAttachRequiresAuthHeaderWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	noncePath := filepath.Join(dir, "nonce")
	require.NoError(t, os.WriteFile(noncePath, []byte("secret-token\n"), 0o600))

	auth := config.AuthConfig{NonceFile: noncePath, Header: "X-Pwno-Token"}
	srv := New(Config{}, auth, newTestTools(t), nil, nil, newTestLogger(t))

	body, _ := json.Marshal(map[string]any{"pid": 1})

	req := httptest.NewRequest(http.MethodPost, "/attach", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/attach", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Pwno-Token", "secret-token")
	rec2 := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

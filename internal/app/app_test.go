package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformctl/internal/orchestrator"
	"platformctl/internal/services"
)

func healthServer(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func writePlatform(t *testing.T, port int) (string, string) {
	t.Helper()
	root := t.TempDir()
	logs := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logs, 0755))
	old := filepath.Join(logs, "old.log")
	require.NoError(t, os.WriteFile(old, []byte("stale"), 0644))
	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "new.log"), []byte("fresh"), 0644))

	path := filepath.Join(root, "platform.yaml")
	content := fmt.Sprintf(`
platform:
  name: lab
  version: "1.0"
network:
  enabled: false
services:
  - name: router
    tier: external
    host: 127.0.0.1
    port: %d
    healthPath: /health
    healthCheck:
      attempts: 1
      timeout: 2s
cleanup:
  enabled: true
  policies:
    - path: logs
      retentionDays: 30
      patterns: ["*.log"]
      enabled: true
`, port)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return root, path
}

func newTestApp(t *testing.T, path string) (*Application, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	cfg := NewConfig(path, false, false)
	cfg.Out = out
	app, err := NewApplication(cfg)
	require.NoError(t, err)
	return app, out
}

func TestUp_CLI(t *testing.T) {
	root, path := writePlatform(t, healthServer(t))
	app, out := newTestApp(t, path)

	result, err := app.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Report.Summary.Healthy)
	assert.Contains(t, out.String(), "1/1 services healthy")

	// cleanup ran before the tiers
	assert.NoFileExists(t, filepath.Join(root, "logs", "old.log"))
	assert.FileExists(t, filepath.Join(root, "logs", "new.log"))

	assert.FileExists(t, filepath.Join(root, "state", "platform_status.json"))
	assert.FileExists(t, filepath.Join(root, "state", "platformctl.prom"))

	report, err := app.Status()
	require.NoError(t, err)
	assert.Equal(t, result.RunID, report.Platform.RunID)
	assert.Equal(t, 1, report.Cleanup.FilesRemoved)
}

func TestUp_MetricsCountBackgroundNotifications(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(webhook.Close)

	root, path := writePlatform(t, healthServer(t))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = append(raw, []byte(fmt.Sprintf(`
notifications:
  enabled: true
  webhookURL: %s
  retryAttempts: 1
  retryDelay: 10ms
  timeout: 2s
  flushTimeout: 5s
`, webhook.URL))...)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	app, _ := newTestApp(t, path)
	_, err = app.Up(context.Background())
	require.NoError(t, err)

	textfile, err := os.ReadFile(filepath.Join(root, "state", "platformctl.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(textfile), `platformctl_notifications_total{event_type="platform_startup",result="delivered"} 1`)
}

func TestStatus_NoReport(t *testing.T) {
	_, path := writePlatform(t, healthServer(t))
	app, _ := newTestApp(t, path)

	_, err := app.Status()
	assert.True(t, errors.Is(err, ErrNoStatus))
}

func TestCleanup_DryRun(t *testing.T) {
	root, path := writePlatform(t, healthServer(t))
	app, out := newTestApp(t, path)

	report := app.Cleanup(context.Background(), true)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.FilesRemoved)
	assert.FileExists(t, filepath.Join(root, "logs", "old.log"))
	assert.Contains(t, out.String(), "Would remove 1 files")
	assert.Contains(t, out.String(), "old.log")

	report = app.Cleanup(context.Background(), false)
	assert.False(t, report.DryRun)
	assert.NoFileExists(t, filepath.Join(root, "logs", "old.log"))
}

func TestDownAndRestart(t *testing.T) {
	_, path := writePlatform(t, healthServer(t))
	app, out := newTestApp(t, path)

	require.NoError(t, app.Down(context.Background()))
	assert.Contains(t, out.String(), "All services stopped.")

	outcome, err := app.Restart(context.Background(), "router")
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Equal(t, services.PhaseHealthy, outcome.State.Phase)

	_, err = app.Restart(context.Background(), "missing")
	assert.True(t, errors.Is(err, orchestrator.ErrUnknownService))
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  - name: x\n    tier: nowhere\n    port: 1\n"), 0644))

	_, err := NewApplication(&Config{ConfigPath: path, Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tier")
}

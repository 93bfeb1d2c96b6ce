package reporting

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformctl/internal/cleanup"
	"platformctl/internal/config"
	"platformctl/internal/services"
)

var startedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleInput() Input {
	return Input{
		Platform:  config.PlatformSettings{Name: "lab", Version: "1.2.0"},
		RunID:     "run-1",
		StartedAt: startedAt,
		Services: []services.RuntimeState{
			{Name: "api", Tier: config.TierCore, Kind: config.KindProcess, Port: 9001, Phase: services.PhaseHealthy, PID: 4242, URLs: []string{"http://localhost:9001"}, LastCheckedAt: startedAt.Add(time.Second)},
			{Name: "worker", Tier: config.TierSecondary, Kind: config.KindProcess, Port: 9002, Phase: services.PhaseUnhealthy, Error: "worker did not become healthy after 3 attempts: connection refused"},
			{Name: "grafana", Tier: config.TierContainer, Kind: config.KindCompose, Port: 3000, Phase: services.PhaseHealthy, Skipped: true},
		},
		Cleanup: &cleanup.Report{
			FinishedAt:         startedAt,
			EnabledDirectories: 1,
			FilesRemoved:       3,
			BytesFreed:         3 << 20,
			Policies: []cleanup.PolicyResult{
				{Path: "/opt/platform/logs", Enabled: true, FilesRemoved: 3, BytesFreed: 3 << 20},
				{Path: "/opt/platform/tmp", Enabled: false},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	report := Build(sampleInput())

	assert.Equal(t, "lab", report.Platform.Name)
	assert.Equal(t, "run-1", report.Platform.RunID)
	assert.Equal(t, Summary{Total: 3, Healthy: 2, Unhealthy: 1}, report.Summary)

	api := report.Services[config.TierCore]["api"]
	assert.Equal(t, 9001, api.Port)
	assert.Equal(t, services.PhaseHealthy, api.Status)
	assert.Equal(t, 4242, api.PID)
	require.NotNil(t, api.LastChecked)

	worker := report.Services[config.TierSecondary]["worker"]
	assert.Contains(t, worker.Error, "did not become healthy")
	assert.Nil(t, worker.LastChecked)

	assert.True(t, report.Services[config.TierContainer]["grafana"].Skipped)

	require.NotNil(t, report.Cleanup.LastCleanup)
	assert.Equal(t, 3, report.Cleanup.FilesRemoved)
	assert.Len(t, report.Cleanup.Directories, 1)
	assert.Equal(t, int64(3<<20), report.Cleanup.Directories["/opt/platform/logs"].BytesFreed)
}

func TestBuild_NoCleanup(t *testing.T) {
	in := sampleInput()
	in.Cleanup = nil
	report := Build(in)
	assert.Nil(t, report.Cleanup.LastCleanup)
	assert.Empty(t, report.Cleanup.Directories)
}

func TestHealthChanges(t *testing.T) {
	prev := Build(sampleInput())

	in := sampleInput()
	in.Services[0].Phase = services.PhaseUnhealthy
	in.Services[0].Error = "boom"
	in.Services[1].Phase = services.PhaseHealthy
	in.Services = append(in.Services, services.RuntimeState{Name: "cache", Tier: config.TierCore, Phase: services.PhaseHealthy})
	cur := Build(in)

	changes := HealthChanges(&prev, cur)
	require.Len(t, changes, 3)
	assert.Equal(t, HealthChange{Name: "api", Tier: config.TierCore, From: services.PhaseHealthy, To: services.PhaseUnhealthy, Error: "boom"}, changes[0])
	assert.Equal(t, "cache", changes[1].Name)
	assert.Equal(t, services.Phase("unknown"), changes[1].From)
	assert.Equal(t, "worker", changes[2].Name)
	assert.Equal(t, services.PhaseHealthy, changes[2].To)
}

func TestHealthChanges_NoPrevious(t *testing.T) {
	changes := HealthChanges(nil, Build(sampleInput()))
	require.Len(t, changes, 3)
	for _, change := range changes {
		assert.Equal(t, services.Phase("unknown"), change.From)
	}
}

func TestHealthChanges_Unchanged(t *testing.T) {
	report := Build(sampleInput())
	assert.Empty(t, HealthChanges(&report, report))
}

func TestHealthyURLs(t *testing.T) {
	assert.Equal(t, []string{"http://localhost:9001"}, Build(sampleInput()).HealthyURLs())
}

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "platform_status.json")
	store := NewStore(path)

	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	report := Build(sampleInput())
	require.NoError(t, store.Save(report))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, report.Summary, loaded.Summary)
	assert.Equal(t, report.Services[config.TierCore]["api"].PID, loaded.Services[config.TierCore]["api"].PID)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Overwrite(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, store.Save(Build(sampleInput())))

	in := sampleInput()
	in.Services = in.Services[:1]
	require.NoError(t, store.Save(Build(in)))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Summary.Total)
}

func TestStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := NewStore(path).Load()
	require.Error(t, err)
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	RenderSummary(&buf, Build(sampleInput()))
	out := buf.String()

	assert.Contains(t, out, "lab")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "already running")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "2/3 services healthy")
	assert.Contains(t, out, "3 files removed")
	assert.Contains(t, out, "3.0 MiB")
	assert.NotContains(t, out, "Tier external")
}

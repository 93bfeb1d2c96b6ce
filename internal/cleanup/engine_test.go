package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformctl/internal/config"
)

const mb = 1024 * 1024

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// makeFile creates a (sparse) file of size bytes aged daysOld days.
func makeFile(t *testing.T, path string, size int64, daysOld float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	mtime := fixedNow.Add(-time.Duration(daysOld * float64(24*time.Hour)))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newTestEngine(opts Options) *Engine {
	opts.Now = func() time.Time { return fixedNow }
	return NewEngine(nil, opts)
}

func TestRunPolicy_AgePass(t *testing.T) {
	dir := t.TempDir()
	var older, newer []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("old-%d.log", i))
		makeFile(t, p, 100, float64(40+i))
		older = append(older, p)
	}
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("new-%d.log", i))
		makeFile(t, p, 100, float64(i+1))
		newer = append(newer, p)
	}

	policy := config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"*.log"}, Enabled: true}
	res := newTestEngine(Options{}).RunPolicy(context.Background(), policy)

	assert.Equal(t, 5, res.FilesRemoved)
	assert.Equal(t, 5, res.AgeRemoved)
	assert.Equal(t, int64(500), res.BytesFreed)
	assert.Empty(t, res.Errors)
	// oldest first: old-4 is 44 days old
	assert.Equal(t, []string{older[4], older[3], older[2], older[1], older[0]}, res.Removed)
	for _, p := range older {
		assert.NoFileExists(t, p)
	}
	for _, p := range newer {
		assert.FileExists(t, p)
	}
}

func TestRunPolicy_SizePassAfterAgePass(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		makeFile(t, filepath.Join(dir, fmt.Sprintf("old-%d.log", i)), 3*mb, float64(40+i))
	}
	var newer []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("new-%d.log", i))
		makeFile(t, p, 3*mb, float64(10-i))
		newer = append(newer, p)
	}

	policy := config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"*.log"}, MaxSizeMB: 10, Enabled: true}
	res := newTestEngine(Options{}).RunPolicy(context.Background(), policy)

	assert.Equal(t, 5, res.AgeRemoved)
	// 15MB left -> two oldest survivors go to reach 9MB
	assert.Equal(t, 2, res.SizeRemoved)
	assert.Equal(t, 7, res.FilesRemoved)
	assert.Equal(t, int64(21*mb), res.BytesFreed)
	assert.Equal(t, []string{newer[0], newer[1]}, res.Removed[5:])
	assert.NoFileExists(t, newer[0])
	assert.NoFileExists(t, newer[1])
	for _, p := range newer[2:] {
		assert.FileExists(t, p)
	}
}

func TestRunPolicy_SizePassStopsAtCeiling(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "a.log"), 4*mb, 3)
	makeFile(t, filepath.Join(dir, "b.log"), 4*mb, 2)
	makeFile(t, filepath.Join(dir, "c.log"), 4*mb, 1)

	// exactly at the ceiling after one removal; nothing more may go
	policy := config.CleanupPolicy{Path: dir, Patterns: []string{"*.log"}, MaxSizeMB: 8, Enabled: true}
	res := newTestEngine(Options{}).RunPolicy(context.Background(), policy)

	assert.Equal(t, []string{filepath.Join(dir, "a.log")}, res.Removed)
	assert.Equal(t, 0, res.AgeRemoved)
	assert.FileExists(t, filepath.Join(dir, "b.log"))
}

func TestRunPolicy_OnlyMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "app.log"), 10, 90)
	makeFile(t, filepath.Join(dir, "keep.txt"), 10, 90)
	makeFile(t, filepath.Join(dir, "nested", "deep", "trace.log.gz"), 10, 90)
	makeFile(t, filepath.Join(dir, "nested", "config.yaml"), 10, 90)

	policy := config.CleanupPolicy{Path: dir, RetentionDays: 7, Patterns: []string{"*.log", "nested/**/*.gz"}, Enabled: true}
	res := newTestEngine(Options{}).RunPolicy(context.Background(), policy)

	assert.Equal(t, 2, res.FilesRemoved)
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
	assert.FileExists(t, filepath.Join(dir, "nested", "config.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, "nested", "deep", "trace.log.gz"))
}

func TestRunPolicy_PrunesEmptiedDirectories(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "a", "b", "c", "old.log"), 10, 90)
	makeFile(t, filepath.Join(dir, "a", "other.txt"), 10, 90)
	makeFile(t, filepath.Join(dir, "x", "old.log"), 10, 90)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "preexisting-empty"), 0755))

	policy := config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"*.log"}, Enabled: true}
	res := newTestEngine(Options{}).RunPolicy(context.Background(), policy)

	assert.Equal(t, 2, res.FilesRemoved)
	assert.Equal(t, 3, res.DirsPruned) // a/b/c, a/b, x
	assert.NoDirExists(t, filepath.Join(dir, "a", "b"))
	assert.DirExists(t, filepath.Join(dir, "a"))
	assert.NoDirExists(t, filepath.Join(dir, "x"))
	assert.DirExists(t, filepath.Join(dir, "preexisting-empty"))
	assert.DirExists(t, dir)
}

func TestRunPolicy_RemoveFailureIsSkipped(t *testing.T) {
	dir := t.TempDir()
	stuck := filepath.Join(dir, "stuck.log")
	makeFile(t, stuck, 10, 50)
	makeFile(t, filepath.Join(dir, "gone.log"), 10, 40)

	remove := func(path string) error {
		if path == stuck {
			return errors.New("permission denied")
		}
		return os.Remove(path)
	}
	policy := config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"*.log"}, Enabled: true}
	res := newTestEngine(Options{Remove: remove}).RunPolicy(context.Background(), policy)

	assert.Equal(t, 1, res.FilesRemoved)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "permission denied")
	assert.FileExists(t, stuck)
	assert.NoFileExists(t, filepath.Join(dir, "gone.log"))
}

func TestRunPolicy_DisabledAndMissing(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "old.log"), 10, 90)

	disabled := newTestEngine(Options{}).RunPolicy(context.Background(),
		config.CleanupPolicy{Path: dir, RetentionDays: 1, Patterns: []string{"*.log"}, Enabled: false})
	assert.False(t, disabled.Enabled)
	assert.Zero(t, disabled.FilesRemoved)
	assert.FileExists(t, filepath.Join(dir, "old.log"))

	missing := newTestEngine(Options{}).RunPolicy(context.Background(),
		config.CleanupPolicy{Path: filepath.Join(dir, "nope"), RetentionDays: 1, Patterns: []string{"*.log"}, Enabled: true})
	assert.True(t, missing.Missing)
	assert.Empty(t, missing.Errors)
}

func TestRunPolicy_ZeroRetentionDisablesAgePass(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "ancient.log"), 10, 3650)

	res := newTestEngine(Options{}).RunPolicy(context.Background(),
		config.CleanupPolicy{Path: dir, RetentionDays: 0, Patterns: []string{"*.log"}, Enabled: true})
	assert.Zero(t, res.FilesRemoved)
	assert.FileExists(t, filepath.Join(dir, "ancient.log"))
}

func TestRunPolicy_DryRun(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "sub", "old.log"), 10, 90)

	res := newTestEngine(Options{DryRun: true}).RunPolicy(context.Background(),
		config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"*.log"}, Enabled: true})
	assert.Equal(t, 1, res.FilesRemoved)
	assert.Equal(t, 0, res.DirsPruned)
	assert.FileExists(t, filepath.Join(dir, "sub", "old.log"))
}

func TestRunPolicy_InvalidPattern(t *testing.T) {
	dir := t.TempDir()
	res := newTestEngine(Options{}).RunPolicy(context.Background(),
		config.CleanupPolicy{Path: dir, RetentionDays: 30, Patterns: []string{"[unclosed"}, Enabled: true})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "invalid pattern")
}

func TestRun_PoliciesAreIsolated(t *testing.T) {
	base := t.TempDir()
	good := filepath.Join(base, "good")
	makeFile(t, filepath.Join(good, "old.log"), 10, 90)
	notADir := filepath.Join(base, "file-not-dir")
	makeFile(t, notADir, 10, 0)
	panicky := filepath.Join(base, "panicky")
	makeFile(t, filepath.Join(panicky, "old.log"), 10, 90)

	var mu sync.Mutex
	var removedPaths []string
	remove := func(path string) error {
		if filepath.Dir(path) == panicky {
			panic("disk on fire")
		}
		mu.Lock()
		removedPaths = append(removedPaths, path)
		mu.Unlock()
		return os.Remove(path)
	}

	engine := NewEngine(func(p string) string { return filepath.Join(base, p) }, Options{
		Remove: remove, Concurrency: 2, Now: func() time.Time { return fixedNow },
	})
	report := engine.Run(context.Background(), []config.CleanupPolicy{
		{Path: "file-not-dir", RetentionDays: 1, Patterns: []string{"*"}, Enabled: true},
		{Path: "panicky", RetentionDays: 1, Patterns: []string{"*.log"}, Enabled: true},
		{Path: "good", RetentionDays: 1, Patterns: []string{"*.log"}, Enabled: true},
		{Path: "disabled", RetentionDays: 1, Patterns: []string{"*.log"}, Enabled: false},
	})

	require.Len(t, report.Policies, 4)
	assert.Equal(t, 3, report.EnabledDirectories)
	assert.Equal(t, 1, report.FilesRemoved)
	assert.NotEmpty(t, report.Policies[0].Errors)
	require.NotEmpty(t, report.Policies[1].Errors)
	assert.Contains(t, report.Policies[1].Errors[0], "disk on fire")
	assert.Equal(t, 1, report.Policies[2].FilesRemoved)
	assert.Equal(t, []string{filepath.Join(good, "old.log")}, removedPaths)
	assert.Equal(t, fixedNow, report.StartedAt)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		rel      string
		patterns []string
		want     bool
	}{
		{"app.log", []string{"*.log"}, true},
		{"sub/app.log", []string{"*.log"}, true},
		{"sub/app.log", []string{"sub/*.log"}, true},
		{"a/b/app.log", []string{"sub/*.log"}, false},
		{"a/b/app.log.1", []string{"**/*.log.*"}, true},
		{"app.txt", []string{"*.log", "*.gz"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matches(tt.rel, tt.patterns), "%s %v", tt.rel, tt.patterns)
	}
}

// Package cleanup evicts old artifacts from managed directories.
//
// Each enabled policy is evaluated independently: matching files are sorted
// oldest first, files past the retention age are removed, then, when a size
// ceiling is set, the oldest survivors are removed until the directory fits.
// Subdirectories emptied by the eviction are pruned deepest first.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"platformctl/internal/config"
	"platformctl/pkg/logging"
)

// PolicyResult is the outcome of one policy.
type PolicyResult struct {
	Path         string   `json:"path"`
	Enabled      bool     `json:"enabled"`
	Missing      bool     `json:"missing,omitempty"`
	FilesRemoved int      `json:"files_removed"`
	BytesFreed   int64    `json:"bytes_freed"`
	AgeRemoved   int      `json:"age_removed"`
	SizeRemoved  int      `json:"size_removed"`
	Removed      []string `json:"removed,omitempty"` // deletion order
	DirsPruned   int      `json:"dirs_pruned"`
	Errors       []string `json:"errors,omitempty"`
}

// Report aggregates every policy of one cleanup cycle.
type Report struct {
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	DryRun             bool           `json:"dry_run,omitempty"`
	EnabledDirectories int            `json:"enabled_directories"`
	FilesRemoved       int            `json:"files_removed"`
	BytesFreed         int64          `json:"bytes_freed"`
	Policies           []PolicyResult `json:"policies"`
}

// Options tunes an Engine. Zero values select the real filesystem and clock.
type Options struct {
	DryRun      bool
	Concurrency int
	Now         func() time.Time
	Remove      func(path string) error
}

// Engine runs retention policies.
type Engine struct {
	resolve func(string) string
	dryRun  bool
	workers int
	now     func() time.Time
	remove  func(string) error
}

// NewEngine creates an engine. resolve turns configured policy paths into
// absolute directories; nil leaves them as they are.
func NewEngine(resolve func(string) string, opts Options) *Engine {
	e := &Engine{
		resolve: resolve,
		dryRun:  opts.DryRun,
		workers: opts.Concurrency,
		now:     opts.Now,
		remove:  opts.Remove,
	}
	if e.resolve == nil {
		e.resolve = func(p string) string { return p }
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.remove == nil {
		e.remove = os.Remove
	}
	return e
}

// Run evaluates all policies concurrently. Policies never affect each other.
func (e *Engine) Run(ctx context.Context, policies []config.CleanupPolicy) Report {
	report := Report{StartedAt: e.now(), DryRun: e.dryRun}
	results := make([]PolicyResult, len(policies))

	p := pool.New().WithMaxGoroutines(e.workers)
	for i, policy := range policies {
		p.Go(func() {
			results[i] = e.RunPolicy(ctx, policy)
		})
	}
	p.Wait()

	for _, res := range results {
		if res.Enabled {
			report.EnabledDirectories++
		}
		report.FilesRemoved += res.FilesRemoved
		report.BytesFreed += res.BytesFreed
	}
	report.Policies = results
	report.FinishedAt = e.now()

	logging.Info("Cleanup", "Cleanup finished: %d files removed, %s freed across %d directories",
		report.FilesRemoved, humanize.IBytes(uint64(report.BytesFreed)), report.EnabledDirectories)
	return report
}

type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

// RunPolicy evaluates one policy. Panics and walk failures are folded into
// the result.
func (e *Engine) RunPolicy(ctx context.Context, policy config.CleanupPolicy) PolicyResult {
	root := filepath.Clean(e.resolve(policy.Path))
	result := PolicyResult{Path: root, Enabled: policy.Enabled}
	if !policy.Enabled {
		logging.Debug("Cleanup", "Policy for %s is disabled, skipping", root)
		return result
	}

	var catcher panics.Catcher
	catcher.Try(func() { e.runPolicy(ctx, policy, root, &result) })
	if recovered := catcher.Recovered(); recovered != nil {
		logging.Error("Cleanup", recovered.AsError(), "Cleanup of %s aborted", root)
		result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", recovered.Value))
	}
	return result
}

func (e *Engine) runPolicy(ctx context.Context, policy config.CleanupPolicy, root string, result *PolicyResult) {
	for _, pattern := range policy.Patterns {
		if !doublestar.ValidatePattern(pattern) {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid pattern %q", pattern))
			return
		}
	}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Cleanup", "Directory %s does not exist, nothing to clean", root)
		result.Missing = true
		return
	}
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", root)
		}
		result.Errors = append(result.Errors, err.Error())
		return
	}

	files, walkErrs := collect(root, policy.Patterns)
	result.Errors = append(result.Errors, walkErrs...)
	sortOldestFirst(files)

	emptied := make(map[string]struct{})
	evict := func(f candidate, reason string) bool {
		if ctx.Err() != nil {
			return false
		}
		if !e.dryRun {
			if err := e.remove(f.path); err != nil {
				logging.Warn("Cleanup", "Could not remove %s: %v", f.path, err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", f.path, err))
				return false
			}
			emptied[filepath.Dir(f.path)] = struct{}{}
		}
		logging.Debug("Cleanup", "Removed %s (%s, %s)", f.path, humanize.IBytes(uint64(f.size)), reason)
		result.Removed = append(result.Removed, f.path)
		result.FilesRemoved++
		result.BytesFreed += f.size
		return true
	}

	removed := make([]bool, len(files))
	next := 0
	if policy.RetentionDays > 0 {
		cutoff := e.now().AddDate(0, 0, -policy.RetentionDays)
		for ; next < len(files) && files[next].modTime.Before(cutoff); next++ {
			if evict(files[next], "age") {
				removed[next] = true
				result.AgeRemoved++
			}
		}
	}

	// The size pass picks up where the age pass stopped.
	if ceiling := policy.MaxSizeBytes(); ceiling > 0 {
		var total int64
		for i, f := range files {
			if !removed[i] {
				total += f.size
			}
		}
		for i := next; i < len(files) && total > ceiling; i++ {
			if evict(files[i], "size") {
				removed[i] = true
				result.SizeRemoved++
				total -= files[i].size
			}
		}
		if total > ceiling {
			logging.Warn("Cleanup", "%s still holds %s, above the %s ceiling", root,
				humanize.IBytes(uint64(total)), humanize.IBytes(uint64(ceiling)))
		}
	}

	result.DirsPruned = pruneEmptied(root, emptied)

	if result.FilesRemoved > 0 {
		logging.Info("Cleanup", "%s: removed %d files (%s)", root, result.FilesRemoved, humanize.IBytes(uint64(result.BytesFreed)))
	}
}

// collect walks root and returns regular files matching any pattern.
// Patterns without a slash match the base name, others the slash-separated
// path relative to root.
func collect(root string, patterns []string) ([]candidate, []string) {
	var files []candidate
	var problems []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			problems = append(problems, err.Error())
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !matches(filepath.ToSlash(rel), patterns) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed concurrently
			return nil
		}
		files = append(files, candidate{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return files, problems
}

func matches(rel string, patterns []string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, pattern := range patterns {
		subject := rel
		if !strings.Contains(pattern, "/") {
			subject = base
		}
		if ok, _ := doublestar.Match(pattern, subject); ok {
			return true
		}
	}
	return false
}

func sortOldestFirst(files []candidate) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
}

// pruneEmptied removes directories left empty by eviction, walking up
// towards root. root itself is never removed.
func pruneEmptied(root string, emptied map[string]struct{}) int {
	dirs := make(map[string]struct{})
	for dir := range emptied {
		for d := dir; d != root && strings.HasPrefix(d, root+string(filepath.Separator)); d = filepath.Dir(d) {
			dirs[d] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], string(filepath.Separator)), strings.Count(ordered[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return ordered[i] < ordered[j]
	})

	pruned := 0
	for _, dir := range ordered {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			logging.Debug("Cleanup", "Could not prune %s: %v", dir, err)
			continue
		}
		pruned++
	}
	return pruned
}

package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"platformctl/pkg/logging"
)

// Store persists the status report as JSON.
type Store struct {
	path string
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the report location.
func (s *Store) Path() string {
	return s.path
}

// Save writes the report atomically: readers see the old or the new file,
// never a partial one.
func (s *Store) Save(report StatusReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".platform_status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write status report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync status report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close status report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set status report mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to move status report into place: %w", err)
	}
	logging.Debug("Reporter", "Status report written to %s", s.path)
	return nil
}

// Load reads the last persisted report. A missing file yields an error that
// satisfies errors.Is(err, fs.ErrNotExist).
func (s *Store) Load() (*StatusReport, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var report StatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return &report, nil
}

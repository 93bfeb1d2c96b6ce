// Package reporting builds, persists and renders the platform status report.
package reporting

import (
	"sort"
	"time"

	"platformctl/internal/cleanup"
	"platformctl/internal/config"
	"platformctl/internal/services"
)

// StatusReport is the durable summary of the latest orchestration run.
type StatusReport struct {
	Platform PlatformInfo                       `json:"platform"`
	Cleanup  CleanupInfo                        `json:"cleanup"`
	Services map[config.Tier]map[string]Service `json:"services"`
	Summary  Summary                            `json:"summary"`
}

// PlatformInfo identifies the run.
type PlatformInfo struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	StartupTime time.Time     `json:"startup_time"`
	RunID       string        `json:"run_id,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}

// CleanupInfo summarizes the most recent cleanup cycle.
type CleanupInfo struct {
	EnabledDirectories int                  `json:"enabled_directories"`
	LastCleanup        *time.Time           `json:"last_cleanup,omitempty"`
	FilesRemoved       int                  `json:"files_removed"`
	BytesFreed         int64                `json:"bytes_freed"`
	Directories        map[string]Directory `json:"directories,omitempty"`
}

// Directory is one policy's outcome.
type Directory struct {
	FilesRemoved int      `json:"files_removed"`
	BytesFreed   int64    `json:"bytes_freed"`
	DirsPruned   int      `json:"dirs_pruned,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Service is one service's entry.
type Service struct {
	Port        int            `json:"port"`
	Kind        string         `json:"kind"`
	Status      services.Phase `json:"status"`
	URLs        []string       `json:"urls,omitempty"`
	PID         int            `json:"pid,omitempty"`
	Error       string         `json:"error,omitempty"`
	Skipped     bool           `json:"skipped,omitempty"`
	LastChecked *time.Time     `json:"last_checked,omitempty"`
	StartupTime time.Duration  `json:"startup_ns,omitempty"`
}

// Summary counts services by health.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// Input is everything Build aggregates.
type Input struct {
	Platform  config.PlatformSettings
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Services  []services.RuntimeState
	Cleanup   *cleanup.Report
}

// Build aggregates snapshots into a report. It has no side effects.
func Build(in Input) StatusReport {
	report := StatusReport{
		Platform: PlatformInfo{
			Name:        in.Platform.Name,
			Version:     in.Platform.Version,
			StartupTime: in.StartedAt,
			RunID:       in.RunID,
			Duration:    in.Duration,
		},
		Services: make(map[config.Tier]map[string]Service),
	}

	for _, st := range in.Services {
		entry := Service{
			Port:        st.Port,
			Kind:        string(st.Kind),
			Status:      st.Phase,
			URLs:        append([]string(nil), st.URLs...),
			PID:         st.PID,
			Error:       st.Error,
			Skipped:     st.Skipped,
			StartupTime: st.Duration,
		}
		if !st.LastCheckedAt.IsZero() {
			checked := st.LastCheckedAt
			entry.LastChecked = &checked
		}
		if report.Services[st.Tier] == nil {
			report.Services[st.Tier] = make(map[string]Service)
		}
		report.Services[st.Tier][st.Name] = entry

		report.Summary.Total++
		if st.Phase == services.PhaseHealthy {
			report.Summary.Healthy++
		} else {
			report.Summary.Unhealthy++
		}
	}

	if in.Cleanup != nil {
		finished := in.Cleanup.FinishedAt
		report.Cleanup = CleanupInfo{
			EnabledDirectories: in.Cleanup.EnabledDirectories,
			LastCleanup:        &finished,
			FilesRemoved:       in.Cleanup.FilesRemoved,
			BytesFreed:         in.Cleanup.BytesFreed,
			Directories:        make(map[string]Directory),
		}
		for _, p := range in.Cleanup.Policies {
			if !p.Enabled {
				continue
			}
			report.Cleanup.Directories[p.Path] = Directory{
				FilesRemoved: p.FilesRemoved,
				BytesFreed:   p.BytesFreed,
				DirsPruned:   p.DirsPruned,
				Errors:       p.Errors,
			}
		}
	}
	return report
}

// Lookup finds a service entry by name in any tier.
func (r StatusReport) Lookup(name string) (config.Tier, Service, bool) {
	for tier, entries := range r.Services {
		if entry, ok := entries[name]; ok {
			return tier, entry, true
		}
	}
	return "", Service{}, false
}

// HealthChange is a service whose status differs from the previous report.
type HealthChange struct {
	Name  string         `json:"name"`
	Tier  config.Tier    `json:"tier"`
	From  services.Phase `json:"from"`
	To    services.Phase `json:"to"`
	Error string         `json:"error,omitempty"`
}

// HealthChanges lists services whose status changed since prev. With no
// previous report every service counts as changed from "unknown".
func HealthChanges(prev *StatusReport, cur StatusReport) []HealthChange {
	var changes []HealthChange
	for tier, entries := range cur.Services {
		for name, entry := range entries {
			from := services.Phase("unknown")
			if prev != nil {
				if _, old, ok := prev.Lookup(name); ok {
					from = old.Status
				}
			}
			if from == entry.Status {
				continue
			}
			changes = append(changes, HealthChange{Name: name, Tier: tier, From: from, To: entry.Status, Error: entry.Error})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		ti, tj := changes[i].Tier.Index(), changes[j].Tier.Index()
		if ti != tj {
			return ti < tj
		}
		return changes[i].Name < changes[j].Name
	})
	return changes
}

// HealthyURLs returns the URLs of healthy services in tier order.
func (r StatusReport) HealthyURLs() []string {
	var urls []string
	for _, tier := range config.TierOrder {
		entries := r.Services[tier]
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if entries[name].Status == services.PhaseHealthy {
				urls = append(urls, entries[name].URLs...)
			}
		}
	}
	return urls
}

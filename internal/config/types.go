package config

import (
	"path/filepath"
	"strings"
	"time"
)

// PlatformConfig is the top-level configuration structure for platformctl.
type PlatformConfig struct {
	Platform      PlatformSettings    `yaml:"platform"`
	Network       NetworkCheck        `yaml:"network"`
	Services      []ServiceDefinition `yaml:"services" validate:"dive"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Status        StatusConfig        `yaml:"status"`
	API           APIConfig           `yaml:"api"`
}

// PlatformSettings identifies the platform and where it lives on disk.
type PlatformSettings struct {
	Name     string `yaml:"name" validate:"required"`
	Version  string `yaml:"version"`
	RootDir  string `yaml:"rootDir" validate:"required"`
	StateDir string `yaml:"stateDir" validate:"required"` // PID records, service logs, status report
	LogLevel string `yaml:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// NetworkCheck configures the reachability precondition checked before any
// service is touched. A failing check aborts the run.
type NetworkCheck struct {
	Enabled  bool          `yaml:"enabled"`
	Targets  []string      `yaml:"targets" validate:"required_if=Enabled true,dive,hostname_port"`
	Attempts int           `yaml:"attempts" validate:"gte=1"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Tier is an ordered group of services that start concurrently with each
// other but only after every earlier tier has finished.
type Tier string

const (
	TierExternal       Tier = "external"
	TierCore           Tier = "core"
	TierSecondary      Tier = "secondary"
	TierInfrastructure Tier = "infrastructure"
	TierContainer      Tier = "container"
)

// TierOrder is the startup order of tiers.
var TierOrder = []Tier{TierExternal, TierCore, TierSecondary, TierInfrastructure, TierContainer}

// Index returns the position of the tier in TierOrder, or -1.
func (t Tier) Index() int {
	for i, candidate := range TierOrder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// ServiceKind selects how a service is started and stopped.
type ServiceKind string

const (
	KindProcess  ServiceKind = "process"
	KindCompose  ServiceKind = "compose"
	KindExternal ServiceKind = "external"
)

// HealthCheckPolicy bounds a health probe: Attempts checks, Interval apart,
// each limited by Timeout.
type HealthCheckPolicy struct {
	Attempts int           `yaml:"attempts" validate:"gte=1"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ServiceDefinition describes one managed service. It is immutable once loaded.
type ServiceDefinition struct {
	Name       string      `yaml:"name" validate:"required"`
	Tier       Tier        `yaml:"tier" validate:"required,oneof=external core secondary infrastructure container"`
	Kind       ServiceKind `yaml:"kind,omitempty" validate:"omitempty,oneof=process compose external"`
	Enabled    *bool       `yaml:"enabled,omitempty"`
	Host       string      `yaml:"host,omitempty" validate:"required"`
	Port       int         `yaml:"port" validate:"required,min=1,max=65535"`
	HealthPath string      `yaml:"healthPath,omitempty" validate:"omitempty,startswith=/"`
	URLs       []string    `yaml:"urls,omitempty"`

	// Process services
	Command string            `yaml:"command,omitempty"`
	WorkDir string            `yaml:"workDir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Compose services
	ComposeFile    string `yaml:"composeFile,omitempty"`
	ComposeProject string `yaml:"composeProject,omitempty"`

	HealthCheck HealthCheckPolicy `yaml:"healthCheck"`
	GracePeriod time.Duration     `yaml:"gracePeriod,omitempty" validate:"gte=0"`
}

// IsEnabled reports whether the service takes part in orchestration.
func (s ServiceDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveKind returns the configured kind or the one inferred from the
// startup directive.
func (s ServiceDefinition) EffectiveKind() ServiceKind {
	if s.Kind != "" {
		return s.Kind
	}
	switch {
	case s.ComposeFile != "":
		return KindCompose
	case s.Command != "":
		return KindProcess
	default:
		return KindExternal
	}
}

// CleanupConfig holds the retention policies evaluated on every cleanup cycle.
type CleanupConfig struct {
	Enabled     bool            `yaml:"enabled"`
	DryRun      bool            `yaml:"dryRun,omitempty"`
	Concurrency int             `yaml:"concurrency,omitempty" validate:"gte=0"`
	Policies    []CleanupPolicy `yaml:"policies" validate:"dive"`
}

// CleanupPolicy is the age/size retention rule for one directory.
type CleanupPolicy struct {
	Path          string   `yaml:"path" validate:"required"`
	RetentionDays int      `yaml:"retentionDays" validate:"gte=0"`
	Patterns      []string `yaml:"patterns" validate:"required,min=1,dive,required"`
	MaxSizeMB     int64    `yaml:"maxSizeMB,omitempty" validate:"gte=0"`
	Enabled       bool     `yaml:"enabled"`
}

// MaxSizeBytes returns the size ceiling in bytes, 0 when unset.
func (p CleanupPolicy) MaxSizeBytes() int64 {
	return p.MaxSizeMB * 1024 * 1024
}

// NotificationConfig configures the outbound webhook. An empty URL makes
// every dispatch a no-op.
type NotificationConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WebhookURL       string        `yaml:"webhookURL,omitempty" validate:"omitempty,url"`
	Source           string        `yaml:"source,omitempty"`
	RetryAttempts    int           `yaml:"retryAttempts" validate:"gte=1"`
	RetryDelay       time.Duration `yaml:"retryDelay" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	BreakerThreshold uint32        `yaml:"breakerThreshold,omitempty"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown,omitempty"`
	FlushTimeout     time.Duration `yaml:"flushTimeout,omitempty"`
}

// StatusConfig sets where the run's durable output goes.
type StatusConfig struct {
	Path        string `yaml:"path,omitempty"`
	MetricsPath string `yaml:"metricsPath,omitempty"`
}

// APIConfig configures the MCP control surface started by `platformctl serve`.
type APIConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// ResolvePath returns p unchanged when absolute, otherwise joined to the
// platform root. {root} placeholders are expanded first.
func (c PlatformConfig) ResolvePath(p string) string {
	p = c.ExpandRoot(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Platform.RootDir, p)
}

// ExpandRoot replaces the {root} placeholder with the platform root directory.
func (c PlatformConfig) ExpandRoot(s string) string {
	return strings.ReplaceAll(s, RootPlaceholder, c.Platform.RootDir)
}

// StateDir is the absolute state directory.
func (c PlatformConfig) StateDir() string {
	return c.ResolvePath(c.Platform.StateDir)
}

// LogDir holds the per-service append-only log files.
func (c PlatformConfig) LogDir() string {
	return filepath.Join(c.StateDir(), "logs")
}

// PIDDir holds the per-service identifier records.
func (c PlatformConfig) PIDDir() string {
	return filepath.Join(c.StateDir(), "pids")
}

// StatusPath is where the status report is persisted.
func (c PlatformConfig) StatusPath() string {
	if c.Status.Path != "" {
		return c.ResolvePath(c.Status.Path)
	}
	return filepath.Join(c.StateDir(), "platform_status.json")
}

// MetricsPath is where the Prometheus textfile is written.
func (c PlatformConfig) MetricsPath() string {
	if c.Status.MetricsPath != "" {
		return c.ResolvePath(c.Status.MetricsPath)
	}
	return filepath.Join(c.StateDir(), "platformctl.prom")
}

// EnabledServices returns the services that take part in orchestration, in
// configuration order.
func (c PlatformConfig) EnabledServices() []ServiceDefinition {
	var out []ServiceDefinition
	for _, svc := range c.Services {
		if svc.IsEnabled() {
			out = append(out, svc)
		}
	}
	return out
}

// FindService looks a service definition up by name.
func (c PlatformConfig) FindService(name string) (ServiceDefinition, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceDefinition{}, false
}

package services

import (
	"context"
	"time"

	"platformctl/internal/config"
	"platformctl/internal/containerizer"
	"platformctl/internal/health"
)

// Phase is the lifecycle phase of a supervised service.
type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhaseStarting   Phase = "starting"
	PhaseHealthy    Phase = "healthy"
	PhaseUnhealthy  Phase = "unhealthy"
	PhaseStopped    Phase = "stopped"
)

// RuntimeState is a value snapshot of a service. Callers never share the
// supervisor's copy.
type RuntimeState struct {
	Name          string             `json:"name"`
	Tier          config.Tier        `json:"tier"`
	Kind          config.ServiceKind `json:"kind"`
	Port          int                `json:"port"`
	URLs          []string           `json:"urls,omitempty"`
	Phase         Phase              `json:"phase"`
	PID           int                `json:"pid,omitempty"`
	Handle        string             `json:"handle,omitempty"`
	LastCheck     health.Result      `json:"last_check"`
	LastCheckedAt time.Time          `json:"last_checked_at,omitempty"`
	Error         string             `json:"error,omitempty"`
	Skipped       bool               `json:"skipped,omitempty"`
	StartedAt     time.Time          `json:"started_at,omitempty"`
	Duration      time.Duration      `json:"duration,omitempty"`
}

// Outcome is the result of a Start call.
type Outcome struct {
	OK      bool
	Skipped bool
	Err     error
	State   RuntimeState
}

// Service is the closed set of supervised variants.
type Service interface {
	Name() string
	Kind() config.ServiceKind
	Tier() config.Tier
	Definition() config.ServiceDefinition

	// Start brings the service up and probes it. It never panics and never
	// returns an error past its boundary: failures are in the Outcome.
	Start(ctx context.Context) Outcome
	// Stop terminates the service. Stopping something that is not running is
	// not an error.
	Stop(ctx context.Context) error
	// Probe performs a single health check and records it.
	Probe(ctx context.Context) health.Result
	State() RuntimeState
}

// HealthProber is the subset of *health.Prober services need.
type HealthProber interface {
	Probe(ctx context.Context, target health.Target, policy health.Policy) (health.Result, error)
	Check(ctx context.Context, target health.Target, timeout time.Duration) (health.Result, error)
}

// Deps carries what a supervisor needs from the outside.
type Deps struct {
	Prober  HealthProber
	Compose containerizer.ComposeRuntime
	RootDir string
	LogDir  string
	PIDDir  string

	// PortOwner resolves the PID listening on a port. Defaults to a
	// gopsutil lookup.
	PortOwner func(ctx context.Context, port int) (int32, error)
	// PollInterval is how often liveness is polled during graceful stop.
	PollInterval time.Duration
}

package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"platformctl/internal/config"
	"platformctl/internal/health"
	"platformctl/pkg/logging"
)

// supervisor holds what all variants share: the definition, the runtime
// state and the lifecycle lock that orders Start and Stop.
type supervisor struct {
	def  config.ServiceDefinition
	deps Deps

	// lifecycle serializes Start and Stop so a stop is always fully awaited
	// before the next start of the same service.
	lifecycle sync.Mutex

	mu    sync.RWMutex
	state RuntimeState
}

func newSupervisor(def config.ServiceDefinition, deps Deps) *supervisor {
	if deps.PortOwner == nil {
		deps.PortOwner = ListeningPID
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 100 * time.Millisecond
	}
	return &supervisor{
		def:  def,
		deps: deps,
		state: RuntimeState{
			Name:  def.Name,
			Tier:  def.Tier,
			Kind:  def.EffectiveKind(),
			Port:  def.Port,
			URLs:  append([]string(nil), def.URLs...),
			Phase: PhaseNotStarted,
		},
	}
}

func (s *supervisor) Name() string                         { return s.def.Name }
func (s *supervisor) Kind() config.ServiceKind             { return s.def.EffectiveKind() }
func (s *supervisor) Tier() config.Tier                    { return s.def.Tier }
func (s *supervisor) Definition() config.ServiceDefinition { return s.def }

// State returns a copy of the runtime state.
func (s *supervisor) State() RuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.URLs = append([]string(nil), s.state.URLs...)
	return st
}

func (s *supervisor) subsystem() string {
	return "Supervisor-" + s.def.Name
}

func (s *supervisor) update(fn func(st *RuntimeState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *supervisor) target() health.Target {
	return health.Target{Host: s.def.Host, Port: s.def.Port, Path: s.def.HealthPath}
}

func (s *supervisor) policy() health.Policy {
	return health.Policy{
		Attempts: s.def.HealthCheck.Attempts,
		Interval: s.def.HealthCheck.Interval,
		Timeout:  s.def.HealthCheck.Timeout,
	}
}

func (s *supervisor) recordCheck(result health.Result) {
	s.update(func(st *RuntimeState) {
		st.LastCheck = result
		st.LastCheckedAt = result.CheckedAt
	})
}

// probeFull runs the configured probe policy.
func (s *supervisor) probeFull(ctx context.Context) health.Result {
	result, err := s.deps.Prober.Probe(ctx, s.target(), s.policy())
	if err != nil {
		result = health.Result{LastError: err.Error(), CheckedAt: time.Now()}
	}
	s.recordCheck(result)
	return result
}

// checkOnce runs a single health check.
func (s *supervisor) checkOnce(ctx context.Context) health.Result {
	result, err := s.deps.Prober.Check(ctx, s.target(), s.def.HealthCheck.Timeout)
	if err != nil {
		result = health.Result{LastError: err.Error(), CheckedAt: time.Now()}
	}
	s.recordCheck(result)
	return result
}

// Probe performs a single check and moves the phase accordingly.
func (s *supervisor) Probe(ctx context.Context) health.Result {
	result := s.checkOnce(ctx)
	s.update(func(st *RuntimeState) {
		if result.Healthy {
			st.Phase = PhaseHealthy
			st.Error = ""
		} else if st.Phase == PhaseHealthy {
			st.Phase = PhaseUnhealthy
			st.Error = result.LastError
		}
	})
	return result
}

func (s *supervisor) beginStart() time.Time {
	started := time.Now()
	s.update(func(st *RuntimeState) {
		st.Phase = PhaseStarting
		st.StartedAt = started
		st.Skipped = false
		st.Error = ""
		st.Duration = 0
	})
	return started
}

// finish settles the phase from the probe result and builds the Outcome.
func (s *supervisor) finish(started time.Time, result health.Result, skipped bool, err error) Outcome {
	if err == nil && !result.Healthy {
		reason := result.LastError
		if reason == "" {
			reason = "no successful health check"
		}
		err = fmt.Errorf("%s did not become healthy after %d attempts: %s", s.def.Name, result.Attempts, reason)
	}
	s.update(func(st *RuntimeState) {
		st.Skipped = skipped
		st.Duration = time.Since(started)
		if err != nil {
			st.Phase = PhaseUnhealthy
			st.Error = err.Error()
		} else {
			st.Phase = PhaseHealthy
			st.Error = ""
		}
	})

	if err != nil {
		logging.Error(s.subsystem(), err, "Start failed")
	} else if skipped {
		logging.Info(s.subsystem(), "Already running and healthy on port %d, skipped", s.def.Port)
	} else {
		logging.Info(s.subsystem(), "Healthy after %d attempt(s)", result.Attempts)
	}
	return Outcome{OK: err == nil, Skipped: skipped && err == nil, Err: err, State: s.State()}
}

// guardStart converts a panic in start into a failed Outcome.
func (s *supervisor) guardStart(started time.Time, start func() Outcome) Outcome {
	var out Outcome
	var catcher panics.Catcher
	catcher.Try(func() { out = start() })
	if recovered := catcher.Recovered(); recovered != nil {
		return s.finish(started, health.Result{}, false, recovered.AsError())
	}
	return out
}

// openLog opens the service's append-only log file.
func (s *supervisor) openLog() (*os.File, error) {
	if err := os.MkdirAll(s.deps.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(s.deps.LogDir, s.def.Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// expandRoot substitutes the {root} placeholder.
func (s *supervisor) expandRoot(v string) string {
	return strings.ReplaceAll(v, config.RootPlaceholder, s.deps.RootDir)
}

// resolve makes p absolute relative to the platform root.
func (s *supervisor) resolve(p string) string {
	p = s.expandRoot(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.deps.RootDir, p)
}

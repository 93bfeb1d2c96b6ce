package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"platformctl/internal/cleanup"
	"platformctl/internal/config"
	"platformctl/internal/health"
	"platformctl/internal/notify"
	"platformctl/internal/reporting"
	"platformctl/internal/services"
	"platformctl/pkg/logging"
)

// ErrUnknownService is returned for names that are not configured or not enabled.
var ErrUnknownService = errors.New("unknown service")

// CleanupRunner applies retention policies.
type CleanupRunner interface {
	Run(ctx context.Context, policies []config.CleanupPolicy) cleanup.Report
}

// Notifier dispatches webhook events.
type Notifier interface {
	Send(ctx context.Context, ev notify.Event) notify.Result
	Go(ev notify.Event)
	SetRunID(id string)
}

// ReportStore persists the status report.
type ReportStore interface {
	Save(report reporting.StatusReport) error
	Load() (*reporting.StatusReport, error)
}

// MetricsRecorder receives run outcomes.
type MetricsRecorder interface {
	ObserveServices(states []services.RuntimeState)
	ObserveCleanup(report cleanup.Report)
	MarkRun(at time.Time)
	WriteTextfile(path string) error
}

// NetworkChecker performs the preflight dials.
type NetworkChecker interface {
	Check(ctx context.Context, target health.Target, timeout time.Duration) (health.Result, error)
}

// Config holds what the orchestrator is built from. Services, Prober and
// Store are required; the rest is optional.
type Config struct {
	Platform config.PlatformConfig
	Services []services.Service
	Prober   NetworkChecker
	Cleanup  CleanupRunner
	Notifier Notifier
	Store    ReportStore
	Metrics  MetricsRecorder

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// RunResult is the outcome of one orchestration run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Report     reporting.StatusReport
	Cleanup    *cleanup.Report
	Changes    []reporting.HealthChange
}

// Orchestrator schedules service lifecycles tier by tier.
type Orchestrator struct {
	cfg      config.PlatformConfig
	services []services.Service
	byName   map[string]services.Service
	tiers    map[config.Tier][]services.Service

	prober   NetworkChecker
	cleanup  CleanupRunner
	notifier Notifier
	store    ReportStore
	metrics  MetricsRecorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// opMu serializes platform-wide operations.
	opMu sync.Mutex

	mu          sync.RWMutex
	states      map[string]services.RuntimeState
	runID       string
	startedAt   time.Time
	lastCleanup *cleanup.Report

	subMu       sync.RWMutex
	subscribers []chan<- Event
}

// New creates an orchestrator. Nothing is started.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.Platform,
		services: cfg.Services,
		byName:   make(map[string]services.Service, len(cfg.Services)),
		tiers:    make(map[config.Tier][]services.Service),
		prober:   cfg.Prober,
		cleanup:  cfg.Cleanup,
		notifier: cfg.Notifier,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		sleep:    cfg.Sleep,
		states:   make(map[string]services.RuntimeState, len(cfg.Services)),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	for _, svc := range cfg.Services {
		o.byName[svc.Name()] = svc
		o.tiers[svc.Tier()] = append(o.tiers[svc.Tier()], svc)
		o.states[svc.Name()] = svc.State()
	}
	return o
}

// Run performs one orchestration pass: network preflight, cleanup, then every
// tier in order. The only error is the fatal class (ErrNetworkUnreachable) or
// a cancelled context; service failures are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	result := RunResult{RunID: uuid.NewString(), StartedAt: o.now()}
	o.mu.Lock()
	o.runID = result.RunID
	o.startedAt = result.StartedAt
	o.mu.Unlock()
	if o.notifier != nil {
		o.notifier.SetRunID(result.RunID)
	}
	logging.Info("Orchestrator", "Starting %s run %s with %d services", o.cfg.Platform.Name, result.RunID, len(o.services))

	o.publish(Event{Type: EventPreflight, Message: "checking network"})
	if err := o.checkNetwork(ctx); err != nil {
		logging.Error("Orchestrator", err, "Aborting run")
		if errors.Is(err, ErrNetworkUnreachable) && o.notifier != nil {
			o.notifier.Send(ctx, notify.NewEvent(notify.KindErrorAlert, map[string]string{
				"stage": "preflight",
				"error": err.Error(),
			}))
		}
		o.publish(Event{Type: EventRunFinished, Error: err.Error()})
		return result, err
	}

	if o.cleanup != nil && o.cfg.Cleanup.Enabled {
		report := o.cleanup.Run(ctx, o.cfg.Cleanup.Policies)
		result.Cleanup = &report
		o.mu.Lock()
		o.lastCleanup = &report
		o.mu.Unlock()
		o.notifyCleanup(report)
		o.publish(Event{Type: EventCleanupFinished, Message: fmt.Sprintf("%d files removed", report.FilesRemoved)})
	}

	for _, tier := range config.TierOrder {
		if err := ctx.Err(); err != nil {
			logging.Warn("Orchestrator", "Run cancelled before tier %s", tier)
			break
		}
		o.runTier(ctx, tier)
	}

	previous := o.loadPrevious()
	result.Report = o.persist()
	result.FinishedAt = o.now()
	result.Changes = reporting.HealthChanges(previous, result.Report)

	if o.notifier != nil {
		for _, change := range result.Changes {
			o.notifier.Go(notify.NewEvent(notify.KindServiceHealth, change))
		}
		o.notifier.Go(notify.NewEvent(notify.KindPlatformStartup, map[string]any{
			"summary":  result.Report.Summary,
			"services": result.Report.Services,
			"urls":     result.Report.HealthyURLs(),
		}))
	}
	o.writeMetrics(result.Cleanup, result.FinishedAt)

	logging.Info("Orchestrator", "Run %s finished: %d/%d services healthy", result.RunID, result.Report.Summary.Healthy, result.Report.Summary.Total)
	o.publish(Event{Type: EventRunFinished, Message: fmt.Sprintf("%d/%d healthy", result.Report.Summary.Healthy, result.Report.Summary.Total)})
	return result, ctx.Err()
}

// runTier starts every service of the tier concurrently and joins them all.
// Outcomes land in the aggregate state only after the join.
func (o *Orchestrator) runTier(ctx context.Context, tier config.Tier) {
	members := o.tiers[tier]
	if len(members) == 0 {
		return
	}
	logging.Info("Orchestrator", "Starting tier %s (%d services)", tier, len(members))
	o.publish(Event{Type: EventTierStarted, Tier: tier})

	outcomes := make([]services.Outcome, len(members))
	var wg conc.WaitGroup
	for i, svc := range members {
		wg.Go(func() {
			o.publish(Event{Type: EventServiceStarting, Tier: tier, Service: svc.Name(), Phase: services.PhaseStarting})
			outcomes[i] = startIsolated(ctx, svc)
			o.publish(serviceEvent(EventServiceFinished, outcomes[i].State))
		})
	}
	wg.Wait()

	healthy := 0
	o.mu.Lock()
	for _, out := range outcomes {
		o.states[out.State.Name] = out.State
		if out.OK {
			healthy++
		}
	}
	o.mu.Unlock()

	logging.Info("Orchestrator", "Tier %s finished: %d/%d healthy", tier, healthy, len(members))
	o.publish(Event{Type: EventTierFinished, Tier: tier, Message: fmt.Sprintf("%d/%d healthy", healthy, len(members))})
}

// startIsolated keeps a panicking service from taking its tier down.
func startIsolated(ctx context.Context, svc services.Service) services.Outcome {
	var out services.Outcome
	var catcher panics.Catcher
	catcher.Try(func() { out = svc.Start(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		err := recovered.AsError()
		logging.Error("Orchestrator", err, "Start of %s panicked", svc.Name())
		state := svc.State()
		state.Phase = services.PhaseUnhealthy
		state.Error = err.Error()
		out = services.Outcome{Err: err, State: state}
	}
	if out.State.Name == "" {
		out.State = svc.State()
	}
	return out
}

func serviceEvent(kind EventType, st services.RuntimeState) Event {
	return Event{Type: kind, Tier: st.Tier, Service: st.Name, Phase: st.Phase, Skipped: st.Skipped, Error: st.Error}
}

// StopAll stops services in reverse tier order, each tier concurrently.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	var errs []error
	for i := len(config.TierOrder) - 1; i >= 0; i-- {
		tier := config.TierOrder[i]
		members := o.tiers[tier]
		if len(members) == 0 {
			continue
		}
		logging.Info("Orchestrator", "Stopping tier %s", tier)

		results := make([]error, len(members))
		var wg conc.WaitGroup
		for j, svc := range members {
			wg.Go(func() {
				results[j] = stopIsolated(ctx, svc)
				o.publish(serviceEvent(EventServiceStopped, svc.State()))
			})
		}
		wg.Wait()

		o.mu.Lock()
		for j, svc := range members {
			o.states[svc.Name()] = svc.State()
			if results[j] != nil {
				errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), results[j]))
			}
		}
		o.mu.Unlock()
	}
	o.persist()
	return errors.Join(errs...)
}

func stopIsolated(ctx context.Context, svc services.Service) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() { err = svc.Stop(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		logging.Error("Orchestrator", err, "Failed to stop %s", svc.Name())
	}
	return err
}

// StartService starts a single service outside of a run.
func (o *Orchestrator) StartService(ctx context.Context, name string) (services.Outcome, error) {
	svc, err := o.lookup(name)
	if err != nil {
		return services.Outcome{}, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()

	out := startIsolated(ctx, svc)
	o.record(out.State)
	o.persist()
	return out, nil
}

// StopService stops a single service.
func (o *Orchestrator) StopService(ctx context.Context, name string) error {
	svc, err := o.lookup(name)
	if err != nil {
		return err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()

	err = stopIsolated(ctx, svc)
	o.record(svc.State())
	o.persist()
	return err
}

// Restart stops the service, waits for the stop to complete, then starts it.
func (o *Orchestrator) Restart(ctx context.Context, name string) (services.Outcome, error) {
	svc, err := o.lookup(name)
	if err != nil {
		return services.Outcome{}, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()

	logging.Info("Orchestrator", "Restarting %s", name)
	if err := stopIsolated(ctx, svc); err != nil {
		o.record(svc.State())
		return services.Outcome{State: svc.State(), Err: err}, fmt.Errorf("failed to stop %s: %w", name, err)
	}
	out := startIsolated(ctx, svc)
	o.record(out.State)
	o.persist()
	return out, nil
}

// RunCleanup applies the cleanup policies outside of a run. A nil runner uses
// the configured one. Dry runs are neither recorded nor notified.
func (o *Orchestrator) RunCleanup(ctx context.Context, runner CleanupRunner) cleanup.Report {
	if runner == nil {
		runner = o.cleanup
	}
	if runner == nil {
		return cleanup.Report{}
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()

	report := runner.Run(ctx, o.cfg.Cleanup.Policies)
	if report.DryRun {
		return report
	}
	o.mu.Lock()
	o.lastCleanup = &report
	o.mu.Unlock()
	o.notifyCleanup(report)
	o.persist()
	if o.metrics != nil {
		o.metrics.ObserveCleanup(report)
		if err := o.metrics.WriteTextfile(o.cfg.MetricsPath()); err != nil {
			logging.Warn("Orchestrator", "Could not write metrics: %v", err)
		}
	}
	return report
}

// Probe runs a single health check against a service and records it.
func (o *Orchestrator) Probe(ctx context.Context, name string) (health.Result, error) {
	svc, err := o.lookup(name)
	if err != nil {
		return health.Result{}, err
	}
	res := svc.Probe(ctx)
	o.record(svc.State())
	return res, nil
}

// States returns snapshots of every service in configuration order.
func (o *Orchestrator) States() []services.RuntimeState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]services.RuntimeState, 0, len(o.services))
	for _, svc := range o.services {
		out = append(out, o.states[svc.Name()])
	}
	return out
}

// Report builds the status report from the current state.
func (o *Orchestrator) Report() reporting.StatusReport {
	o.mu.RLock()
	in := reporting.Input{
		Platform:  o.cfg.Platform,
		RunID:     o.runID,
		StartedAt: o.startedAt,
		Cleanup:   o.lastCleanup,
	}
	o.mu.RUnlock()
	in.Services = o.States()
	if !in.StartedAt.IsZero() {
		in.Duration = o.now().Sub(in.StartedAt)
	}
	return reporting.Build(in)
}

func (o *Orchestrator) lookup(name string) (services.Service, error) {
	svc, ok := o.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

func (o *Orchestrator) record(st services.RuntimeState) {
	o.mu.Lock()
	o.states[st.Name] = st
	o.mu.Unlock()
}

func (o *Orchestrator) loadPrevious() *reporting.StatusReport {
	if o.store == nil {
		return nil
	}
	prev, err := o.store.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("Orchestrator", "Ignoring unreadable previous status report: %v", err)
		}
		return nil
	}
	return prev
}

// persist saves the current report. Failures are logged only.
func (o *Orchestrator) persist() reporting.StatusReport {
	report := o.Report()
	if o.store != nil {
		if err := o.store.Save(report); err != nil {
			logging.Error("Orchestrator", err, "Failed to save status report")
		}
	}
	return report
}

func (o *Orchestrator) notifyCleanup(report cleanup.Report) {
	if o.notifier == nil || report.DryRun || report.EnabledDirectories == 0 {
		return
	}
	directories := make(map[string]any, len(report.Policies))
	for _, p := range report.Policies {
		if !p.Enabled {
			continue
		}
		directories[p.Path] = map[string]any{
			"files_removed": p.FilesRemoved,
			"bytes_freed":   p.BytesFreed,
			"errors":        p.Errors,
		}
	}
	o.notifier.Go(notify.NewEvent(notify.KindConfigCleanup, map[string]any{
		"files_removed": report.FilesRemoved,
		"bytes_freed":   report.BytesFreed,
		"directories":   directories,
	}))
}

func (o *Orchestrator) writeMetrics(cleanupReport *cleanup.Report, at time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveServices(o.States())
	if cleanupReport != nil {
		o.metrics.ObserveCleanup(*cleanupReport)
	}
	o.metrics.MarkRun(at)
	if err := o.metrics.WriteTextfile(o.cfg.MetricsPath()); err != nil {
		logging.Warn("Orchestrator", "Could not write metrics: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

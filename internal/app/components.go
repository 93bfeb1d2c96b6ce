package app

import (
	"platformctl/internal/cleanup"
	"platformctl/internal/config"
	"platformctl/internal/containerizer"
	"platformctl/internal/health"
	"platformctl/internal/metrics"
	"platformctl/internal/notify"
	"platformctl/internal/orchestrator"
	"platformctl/internal/reporting"
	"platformctl/internal/services"
)

// Components holds every constructed collaborator.
type Components struct {
	Prober       *health.Prober
	Compose      containerizer.ComposeRuntime
	Services     []services.Service
	Cleanup      *cleanup.Engine
	Notifier     *notify.Notifier
	Store        *reporting.Store
	Metrics      *metrics.Recorder
	Orchestrator *orchestrator.Orchestrator
}

// InitializeComponents builds the object graph from the platform configuration.
// Nothing is started.
func InitializeComponents(cfg config.PlatformConfig, compose containerizer.ComposeRuntime) *Components {
	if compose == nil {
		compose = containerizer.NewDockerCompose()
	}
	prober := health.NewProber()
	recorder := metrics.NewRecorder()

	deps := services.DepsFromConfig(cfg, services.Deps{
		Prober:  prober,
		Compose: compose,
	})
	svcs := services.NewAll(cfg, deps)

	engine := cleanup.NewEngine(cfg.ResolvePath, cleanup.Options{
		DryRun:      cfg.Cleanup.DryRun,
		Concurrency: cfg.Cleanup.Concurrency,
	})

	notifier := notify.New(cfg.Notifications, notify.Options{
		Platform: cfg.Platform.Name,
		Observe:  recorder.ObserveNotification,
	})

	store := reporting.NewStore(cfg.StatusPath())

	orch := orchestrator.New(orchestrator.Config{
		Platform: cfg,
		Services: svcs,
		Prober:   prober,
		Cleanup:  engine,
		Notifier: notifier,
		Store:    store,
		Metrics:  recorder,
	})

	return &Components{
		Prober:       prober,
		Compose:      compose,
		Services:     svcs,
		Cleanup:      engine,
		Notifier:     notifier,
		Store:        store,
		Metrics:      recorder,
		Orchestrator: orch,
	}
}

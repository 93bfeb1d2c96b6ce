package services

import (
	"context"

	"platformctl/internal/config"
)

// ExternalService is run by someone else; it is observed but never started
// or stopped.
type ExternalService struct {
	*supervisor
}

// NewExternalService creates the observer for an external-kind service.
func NewExternalService(def config.ServiceDefinition, deps Deps) *ExternalService {
	return &ExternalService{supervisor: newSupervisor(def, deps)}
}

// Start only probes.
func (e *ExternalService) Start(ctx context.Context) Outcome {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	started := e.beginStart()
	return e.guardStart(started, func() Outcome {
		return e.finish(started, e.probeFull(ctx), false, nil)
	})
}

// Stop is a no-op.
func (e *ExternalService) Stop(context.Context) error {
	return nil
}

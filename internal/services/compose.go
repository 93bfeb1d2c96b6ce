package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"platformctl/internal/config"
	"platformctl/internal/containerizer"
	"platformctl/internal/health"
	"platformctl/pkg/logging"
)

// ComposeService supervises a docker compose stack.
type ComposeService struct {
	*supervisor
}

// NewComposeService creates the supervisor for a compose-kind service.
func NewComposeService(def config.ServiceDefinition, deps Deps) *ComposeService {
	svc := &ComposeService{supervisor: newSupervisor(def, deps)}
	svc.state.Handle = svc.handle()
	return svc
}

func (c *ComposeService) handle() string {
	if c.def.ComposeProject != "" {
		return c.def.ComposeProject
	}
	return c.resolve(c.def.ComposeFile)
}

func (c *ComposeService) stack(log io.Writer) containerizer.Stack {
	return containerizer.Stack{
		Name:    c.def.Name,
		File:    c.resolve(c.def.ComposeFile),
		Project: c.def.ComposeProject,
		WorkDir: c.resolve(c.def.WorkDir),
		Log:     log,
	}
}

// Start brings the stack up unless a container already publishes the port
// and answers healthy.
func (c *ComposeService) Start(ctx context.Context) Outcome {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	started := c.beginStart()
	return c.guardStart(started, func() Outcome {
		if c.deps.Compose == nil {
			return c.finish(started, health.Result{}, false, errors.New("no container runtime configured"))
		}

		ids, err := c.deps.Compose.PublishedBy(ctx, c.def.Port)
		stale := false
		if err != nil {
			logging.Warn(c.subsystem(), "Could not list containers on port %d: %v", c.def.Port, err)
		} else if len(ids) > 0 {
			if result := c.checkOnce(ctx); result.Healthy {
				return c.finish(started, result, true, nil)
			}
			logging.Warn(c.subsystem(), "Containers %v publish port %d but are not healthy, recreating the stack", ids, c.def.Port)
			stale = true
		}

		logFile, err := c.openLog()
		if err != nil {
			return c.finish(started, health.Result{}, false, err)
		}
		defer logFile.Close()

		// compose up leaves unchanged containers alone, so an unhealthy stack
		// has to come down first
		if stale {
			if err := c.deps.Compose.Down(ctx, c.stack(logFile), c.def.GracePeriod); err != nil {
				return c.finish(started, health.Result{}, false, fmt.Errorf("failed to stop previous instance: %w", err))
			}
		}
		if err := c.deps.Compose.Up(ctx, c.stack(logFile)); err != nil {
			return c.finish(started, health.Result{}, false, err)
		}

		return c.finish(started, c.probeFull(ctx), false, nil)
	})
}

// Stop takes the stack down within the grace period.
func (c *ComposeService) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.deps.Compose == nil {
		return errors.New("no container runtime configured")
	}
	logFile, err := c.openLog()
	var log io.Writer
	if err == nil {
		defer logFile.Close()
		log = logFile
	}
	if err := c.deps.Compose.Down(ctx, c.stack(log), c.def.GracePeriod); err != nil {
		c.update(func(st *RuntimeState) { st.Error = err.Error() })
		return fmt.Errorf("failed to stop %s: %w", c.def.Name, err)
	}
	c.update(func(st *RuntimeState) { st.Phase = PhaseStopped })
	return nil
}

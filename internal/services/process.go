package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"platformctl/internal/config"
	"platformctl/internal/health"
	"platformctl/pkg/logging"
)

// postKillWait bounds how long Stop waits for a SIGKILLed group to vanish.
const postKillWait = 2 * time.Second

// ProcessService supervises a locally spawned command.
type ProcessService struct {
	*supervisor
}

// NewProcessService creates the supervisor for a process-kind service.
func NewProcessService(def config.ServiceDefinition, deps Deps) *ProcessService {
	return &ProcessService{supervisor: newSupervisor(def, deps)}
}

func (p *ProcessService) pidPath() string {
	return PIDPath(p.deps.PIDDir, p.def.Name)
}

// exitWatch is closed once the spawned child has been reaped.
type exitWatch struct {
	done chan struct{}
	err  error
}

// Start brings the process up unless it is already serving.
func (p *ProcessService) Start(ctx context.Context) Outcome {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	started := p.beginStart()
	return p.guardStart(started, func() Outcome {
		if result, ok := p.alreadyServing(ctx); ok {
			return p.finish(started, result, true, nil)
		}

		if err := p.stopLocked(ctx); err != nil {
			return p.finish(started, health.Result{}, false, fmt.Errorf("failed to stop previous instance: %w", err))
		}

		pid, watch, err := p.spawn()
		if err != nil {
			return p.finish(started, health.Result{}, false, err)
		}
		if err := WritePID(p.pidPath(), pid); err != nil {
			_ = signalGroup(pid, unix.SIGKILL)
			return p.finish(started, health.Result{}, false, fmt.Errorf("failed to record pid %d: %w", pid, err))
		}
		p.update(func(st *RuntimeState) { st.PID = pid })
		logging.Info(p.subsystem(), "Spawned with PID %d, probing %s", pid, p.target().Address())

		return p.probeWhileRunning(ctx, started, watch)
	})
}

// alreadyServing is the idempotency check: port bound AND one healthy check.
// Any process holding the port counts; a different owner is only flagged.
func (p *ProcessService) alreadyServing(ctx context.Context) (health.Result, bool) {
	if !PortBound(ctx, p.def.Host, p.def.Port, p.def.HealthCheck.Timeout) {
		return health.Result{}, false
	}
	result := p.checkOnce(ctx)
	if !result.Healthy {
		logging.Warn(p.subsystem(), "Port %d is bound but the health check failed: %s", p.def.Port, result.LastError)
		return result, false
	}

	recorded, _ := ReadPID(p.pidPath())
	owner, err := p.deps.PortOwner(ctx, p.def.Port)
	switch {
	case err != nil:
		logging.Debug(p.subsystem(), "Could not resolve owner of port %d: %v", p.def.Port, err)
	case owner != 0 && int(owner) != recorded:
		logging.Warn(p.subsystem(), "Port %d is served by PID %d, not the recorded PID %d; treating as running", p.def.Port, owner, recorded)
	}
	pid := recorded
	if pid == 0 {
		pid = int(owner)
	}
	p.update(func(st *RuntimeState) { st.PID = pid })
	return result, true
}

func (p *ProcessService) spawn() (int, *exitWatch, error) {
	command := p.expandRoot(p.def.Command)
	logFile, err := p.openLog()
	if err != nil {
		return 0, nil, err
	}
	fmt.Fprintf(logFile, "\n=== %s starting %s: %s ===\n", time.Now().Format(time.RFC3339), p.def.Name, command)

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = p.resolve(p.def.WorkDir)
	if cmd.Dir == "" {
		cmd.Dir = p.deps.RootDir
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// Own session: survives us and can be signalled as a group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if len(p.def.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(p.def.Env))
		for k := range p.def.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+p.expandRoot(p.def.Env[k]))
		}
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, nil, fmt.Errorf("failed to start %q: %w", command, err)
	}

	watch := &exitWatch{done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		logFile.Close()
		watch.err = err
		close(watch.done)
	}()
	return cmd.Process.Pid, watch, nil
}

// probeWhileRunning probes until healthy or exhausted. A non-zero exit of the
// child ends probing early; a clean exit is a launcher that backgrounded the
// real server, so probing continues and the port owner is adopted.
func (p *ProcessService) probeWhileRunning(ctx context.Context, started time.Time, watch *exitWatch) Outcome {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-watch.done:
			if watch.err != nil {
				cancel()
			}
		case <-probeCtx.Done():
		}
	}()

	result := p.probeFull(probeCtx)

	select {
	case <-watch.done:
		if watch.err != nil {
			_ = RemovePID(p.pidPath())
			p.update(func(st *RuntimeState) { st.PID = 0 })
			return p.finish(started, result, false, fmt.Errorf("process exited during startup: %w", watch.err))
		}
		p.adoptPortOwner(ctx)
	default:
	}
	return p.finish(started, result, false, nil)
}

// adoptPortOwner replaces the record of an exited launcher with the PID that
// now listens on the service port, so Stop targets the real server.
func (p *ProcessService) adoptPortOwner(ctx context.Context) {
	owner, err := p.deps.PortOwner(ctx, p.def.Port)
	if err != nil || owner <= 0 {
		if err != nil {
			logging.Debug(p.subsystem(), "Could not resolve owner of port %d: %v", p.def.Port, err)
		}
		logging.Warn(p.subsystem(), "Launcher exited and no process owns port %d", p.def.Port)
		_ = RemovePID(p.pidPath())
		p.update(func(st *RuntimeState) { st.PID = 0 })
		return
	}
	pid := int(owner)
	if err := WritePID(p.pidPath(), pid); err != nil {
		logging.Error(p.subsystem(), err, "Failed to record PID %d of port owner", pid)
		return
	}
	logging.Info(p.subsystem(), "Launcher exited cleanly, tracking port %d owner PID %d", p.def.Port, pid)
	p.update(func(st *RuntimeState) { st.PID = pid })
}

// Stop terminates the recorded process group.
func (p *ProcessService) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	err := p.stopLocked(ctx)
	p.update(func(st *RuntimeState) {
		if err != nil {
			st.Error = err.Error()
			return
		}
		st.Phase = PhaseStopped
		st.PID = 0
	})
	return err
}

func (p *ProcessService) stopLocked(ctx context.Context) error {
	path := p.pidPath()
	pid, err := ReadPID(path)
	if errors.Is(err, ErrNoRecord) {
		return nil
	}
	if err != nil {
		logging.Warn(p.subsystem(), "Discarding unreadable pid record: %v", err)
		return RemovePID(path)
	}
	if !Alive(pid) {
		logging.Debug(p.subsystem(), "Recorded PID %d is not running, removing stale record", pid)
		return RemovePID(path)
	}

	logging.Info(p.subsystem(), "Stopping PID %d (grace %s)", pid, p.def.GracePeriod)
	if err := terminate(ctx, pid, p.def.GracePeriod, p.deps.PollInterval, p.subsystem()); err != nil {
		return err
	}
	return RemovePID(path)
}

// terminate sends SIGTERM to the group, waits up to grace, then SIGKILLs.
func terminate(ctx context.Context, pid int, grace, poll time.Duration, subsystem string) error {
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM to %d: %w", pid, err)
	}
	if waitExit(ctx, pid, grace, poll) {
		return nil
	}

	logging.Warn(subsystem, "PID %d still running after %s, sending SIGKILL", pid, grace)
	if err := signalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send SIGKILL to %d: %w", pid, err)
	}
	if !waitExit(context.Background(), pid, postKillWait, poll) {
		return fmt.Errorf("process %d survived SIGKILL", pid)
	}
	return nil
}

// signalGroup signals the process group led by pid, falling back to the
// single process when pid does not lead a group.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	return err
}

// waitExit polls liveness until the process is gone or the window closes.
func waitExit(ctx context.Context, pid int, window, poll time.Duration) bool {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if !Alive(pid) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

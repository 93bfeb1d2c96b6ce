package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	tea "github.com/charmbracelet/bubbletea"

	"platformctl/internal/cleanup"
	"platformctl/internal/orchestrator"
	"platformctl/internal/reporting"
	"platformctl/internal/services"
	"platformctl/internal/tui"
	"platformctl/pkg/logging"
)

// ErrNoStatus is returned by Status before any run has persisted a report.
var ErrNoStatus = errors.New("no status report found, run `platformctl up` first")

// Up runs the orchestration once and prints the summary. The returned error
// is non-nil only for the fatal class or an interrupted run.
func (a *Application) Up(ctx context.Context) (orchestrator.RunResult, error) {
	var (
		result   orchestrator.RunResult
		err      error
		finished bool
	)
	defer func() {
		a.flush()
		if finished {
			a.exportMetrics()
		}
	}()

	if a.config.TUI {
		result, err = a.upTUI(ctx)
	} else {
		logging.Info("CLI", "Starting platform %s", a.config.Platform.Platform.Name)
		result, err = a.components.Orchestrator.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return result, err
	}

	// an interrupted run still reports what it reached
	finished = true
	reporting.RenderSummary(a.config.Out, result.Report)
	return result, err
}

func (a *Application) upTUI(ctx context.Context) (orchestrator.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logChan := logging.InitForTUI(levelFor(a.config.Debug, a.config.Platform.Platform.LogLevel))
	defer func() {
		logging.CloseTUIChannel()
		logging.InitForCLI(levelFor(a.config.Debug, a.config.Platform.Platform.LogLevel), logOutput(a.config))
	}()

	model := tui.NewModel(tui.Options{
		Title:    fmt.Sprintf("%s %s", a.config.Platform.Platform.Name, a.config.Platform.Platform.Version),
		Services: a.config.Platform.EnabledServices(),
		Events:   a.components.Orchestrator.Subscribe(),
		Logs:     logChan,
		Cancel:   cancel,
	})
	program := tea.NewProgram(model)

	type outcome struct {
		result orchestrator.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := a.components.Orchestrator.Run(runCtx)
		done <- outcome{result, err}
		program.Send(tui.RunFinishedMsg{Err: err})
	}()

	if _, err := program.Run(); err != nil {
		logging.Error("TUI-Lifecycle", err, "Error running TUI program")
		cancel()
	}
	// the run always finishes: a quit cancels it
	out := <-done
	return out.result, out.err
}

// Down stops every service in reverse tier order.
func (a *Application) Down(ctx context.Context) error {
	defer a.flush()
	logging.Info("CLI", "Stopping platform %s", a.config.Platform.Platform.Name)
	if err := a.components.Orchestrator.StopAll(ctx); err != nil {
		return fmt.Errorf("some services did not stop: %w", err)
	}
	fmt.Fprintln(a.config.Out, "All services stopped.")
	return nil
}

// Restart restarts a single service.
func (a *Application) Restart(ctx context.Context, name string) (services.Outcome, error) {
	defer a.flush()
	out, err := a.components.Orchestrator.Restart(ctx, name)
	if err != nil {
		return out, err
	}
	if out.OK {
		fmt.Fprintf(a.config.Out, "%s restarted and healthy.\n", name)
	} else {
		fmt.Fprintf(a.config.Out, "%s restarted but is %s: %s\n", name, out.State.Phase, out.State.Error)
	}
	return out, nil
}

// Cleanup applies the retention policies. A dry run only reports what would
// be removed.
func (a *Application) Cleanup(ctx context.Context, dryRun bool) cleanup.Report {
	defer a.flush()
	cfg := *a.config.Platform
	var runner orchestrator.CleanupRunner
	if dryRun {
		runner = cleanup.NewEngine(cfg.ResolvePath, cleanup.Options{DryRun: true, Concurrency: cfg.Cleanup.Concurrency})
	}
	report := a.components.Orchestrator.RunCleanup(ctx, runner)
	renderCleanup(a.config.Out, report)
	return report
}

// Status loads the persisted report of the last run.
func (a *Application) Status() (*reporting.StatusReport, error) {
	report, err := a.components.Store.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoStatus
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Application) flush() {
	if !a.components.Notifier.Enabled() {
		return
	}
	if !a.components.Notifier.Flush(a.config.Platform.Notifications.FlushTimeout) {
		logging.Warn("CLI", "Some notifications were still in flight at exit")
	}
}

// exportMetrics rewrites the textfile once background notifications have
// settled, so their outcomes are counted.
func (a *Application) exportMetrics() {
	if a.components.Metrics == nil {
		return
	}
	if err := a.components.Metrics.WriteTextfile(a.config.Platform.MetricsPath()); err != nil {
		logging.Warn("CLI", "Could not write metrics: %v", err)
	}
}

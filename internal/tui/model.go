// Package tui renders orchestration progress as a terminal view.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"platformctl/internal/config"
	"platformctl/internal/orchestrator"
	"platformctl/internal/services"
	"platformctl/pkg/logging"
)

const maxLogLines = 8

type tierStatus int

const (
	tierPending tierStatus = iota
	tierRunning
	tierDone
)

type serviceRow struct {
	name    string
	port    int
	phase   services.Phase
	skipped bool
	detail  string
}

// Options configures a Model.
type Options struct {
	Title    string
	Services []config.ServiceDefinition
	Events   <-chan orchestrator.Event
	Logs     <-chan logging.LogEntry
	// Cancel aborts the run when the user quits.
	Cancel context.CancelFunc
}

// RunFinishedMsg tells the model the orchestration returned.
type RunFinishedMsg struct {
	Err error
}

type eventMsg orchestrator.Event
type logMsg logging.LogEntry
type channelClosedMsg struct{}

// Model is the bubbletea model for `up --tui`.
type Model struct {
	title   string
	keys    keyMap
	spinner spinner.Model

	tiers    []config.Tier
	status   map[config.Tier]tierStatus
	rows     map[config.Tier][]*serviceRow
	index    map[string]*serviceRow
	message  string
	logLines []string

	events <-chan orchestrator.Event
	logs   <-chan logging.LogEntry
	cancel context.CancelFunc

	width    int
	finished bool
	quitting bool
	err      error
}

type keyMap struct {
	Quit key.Binding
}

// NewModel builds the initial view from the configured services.
func NewModel(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = infoStyle

	m := Model{
		title:   opts.Title,
		keys:    keyMap{Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q/ctrl+c", "quit"))},
		spinner: s,
		status:  make(map[config.Tier]tierStatus),
		rows:    make(map[config.Tier][]*serviceRow),
		index:   make(map[string]*serviceRow),
		events:  opts.Events,
		logs:    opts.Logs,
		cancel:  opts.Cancel,
		width:   80,
	}
	for _, def := range opts.Services {
		row := &serviceRow{name: def.Name, port: def.Port, phase: services.PhaseNotStarted}
		m.rows[def.Tier] = append(m.rows[def.Tier], row)
		m.index[def.Name] = row
	}
	for _, tier := range config.TierOrder {
		if len(m.rows[tier]) > 0 {
			m.tiers = append(m.tiers, tier)
		}
	}
	return m
}

// Init starts the spinner and the channel listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), waitForLog(m.logs))
}

func waitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func waitForLog(ch <-chan logging.LogEntry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return logMsg(entry)
	}
}

// Update handles events, log lines and keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(orchestrator.Event(msg))
		return m, waitForEvent(m.events)

	case logMsg:
		m.appendLog(logging.LogEntry(msg))
		return m, waitForLog(m.logs)

	case RunFinishedMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit

	case channelClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m *Model) apply(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventTierStarted:
		m.status[ev.Tier] = tierRunning
	case orchestrator.EventTierFinished:
		m.status[ev.Tier] = tierDone
	case orchestrator.EventServiceStarting, orchestrator.EventServiceFinished, orchestrator.EventServiceStopped:
		row, ok := m.index[ev.Service]
		if !ok {
			return
		}
		row.phase = ev.Phase
		row.skipped = ev.Skipped
		row.detail = ev.Error
	}
	if ev.Message != "" {
		m.message = fmt.Sprintf("%s: %s", ev.Type, ev.Message)
	}
}

func (m *Model) appendLog(entry logging.LogEntry) {
	line := fmt.Sprintf("%s [%s] %s: %s", entry.Timestamp.Format(time.TimeOnly), entry.Level, entry.Subsystem, entry.Message)
	if entry.Err != nil {
		line += ": " + entry.Err.Error()
	}
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

// Finished reports whether the run completed before the view closed.
func (m Model) Finished() bool {
	return m.finished
}

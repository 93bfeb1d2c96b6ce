package tui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"platformctl/internal/services"
)

// View renders tiers, services and the most recent log lines.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	for _, tier := range m.tiers {
		var marker string
		switch m.status[tier] {
		case tierRunning:
			marker = m.spinner.View()
		case tierDone:
			marker = successStyle.Render(IconCheck)
		default:
			marker = mutedStyle.Render(IconPending)
		}
		fmt.Fprintf(&b, "%s %s\n", marker, tierStyle.Render(string(tier)))

		for _, row := range m.rows[tier] {
			b.WriteString("   ")
			b.WriteString(m.renderRow(row))
			b.WriteString("\n")
		}
	}

	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(truncate(m.message, m.width)))
		b.WriteString("\n")
	}

	if len(m.logLines) > 0 {
		lines := make([]string, len(m.logLines))
		inner := m.width - 4
		for i, line := range m.logLines {
			lines[i] = styleLogLine(truncate(line, inner))
		}
		b.WriteString("\n")
		b.WriteString(logPanelStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	switch {
	case m.finished && m.err != nil:
		b.WriteString(errorStyle.Render("run failed: " + m.err.Error()))
	case m.finished:
		b.WriteString(successStyle.Render("run finished"))
	case m.quitting:
		b.WriteString(warnStyle.Render("cancelling..."))
	default:
		b.WriteString(mutedStyle.Render("q/ctrl+c to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderRow(row *serviceRow) string {
	var icon string
	switch row.phase {
	case services.PhaseHealthy:
		icon = successStyle.Render(IconCheck)
		if row.skipped {
			icon = successStyle.Render(IconSkipped)
		}
	case services.PhaseUnhealthy:
		icon = errorStyle.Render(IconCross)
	case services.PhaseStarting:
		icon = infoStyle.Render(IconHourglass)
	case services.PhaseStopped:
		icon = mutedStyle.Render(IconStop)
	default:
		icon = mutedStyle.Render(IconPending)
	}

	plain := fmt.Sprintf("%-20s :%-5d %s", row.name, row.port, row.phase)
	line := icon + " " + plain
	if row.detail != "" {
		used := 3 + 2 + runewidth.StringWidth(plain) + 2
		line += "  " + errorStyle.Render(truncate(row.detail, m.width-used))
	}
	return line
}

// truncate cuts s to width display cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 1 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "") + "…"
}

func styleLogLine(l string) string {
	switch {
	case strings.Contains(l, "[ERROR]"):
		return errorStyle.Render(l)
	case strings.Contains(l, "[WARN]"):
		return warnStyle.Render(l)
	case strings.Contains(l, "[DEBUG]"):
		return mutedStyle.Render(l)
	default:
		return l
	}
}

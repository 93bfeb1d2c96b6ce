package reporting

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"platformctl/internal/config"
	"platformctl/internal/services"
)

var (
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#059669", Dark: "#10B981"}).Bold(true)
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#EF4444"}).Bold(true)
	neutralStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#F59E0B"})
	headingStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}).Bold(true)
)

func statusCell(phase services.Phase, skipped bool) string {
	switch phase {
	case services.PhaseHealthy:
		label := "healthy"
		if skipped {
			label = "healthy (already running)"
		}
		return healthyStyle.Render(label)
	case services.PhaseUnhealthy:
		return unhealthyStyle.Render(string(phase))
	default:
		return neutralStyle.Render(string(phase))
	}
}

// RenderSummary writes the human-readable run summary: one table per tier,
// then cleanup totals.
func RenderSummary(w io.Writer, report StatusReport) {
	fmt.Fprintf(w, "%s %s (run %s)\n\n", headingStyle.Render(report.Platform.Name), report.Platform.Version, report.Platform.RunID)

	for _, tier := range config.TierOrder {
		entries := report.Services[tier]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintln(w, headingStyle.Render("Tier "+string(tier)))

		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Service", "Status", "Port", "PID", "Detail"})
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(true)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)

		for _, name := range names {
			entry := entries[name]
			pid := "-"
			if entry.PID > 0 {
				pid = strconv.Itoa(entry.PID)
			}
			detail := entry.Error
			if detail == "" && len(entry.URLs) > 0 {
				detail = entry.URLs[0]
			}
			table.Append([]string{name, statusCell(entry.Status, entry.Skipped), strconv.Itoa(entry.Port), pid, detail})
		}
		table.Render()
		fmt.Fprintln(w)
	}

	summary := fmt.Sprintf("%d/%d services healthy", report.Summary.Healthy, report.Summary.Total)
	if report.Summary.Unhealthy > 0 {
		fmt.Fprintf(w, "%s, %s\n", summary, unhealthyStyle.Render(fmt.Sprintf("%d unhealthy", report.Summary.Unhealthy)))
	} else {
		fmt.Fprintln(w, healthyStyle.Render(summary))
	}

	if report.Cleanup.LastCleanup != nil {
		fmt.Fprintf(w, "Cleanup: %d files removed, %s freed across %d directories\n",
			report.Cleanup.FilesRemoved, humanize.IBytes(uint64(report.Cleanup.BytesFreed)), report.Cleanup.EnabledDirectories)
		paths := make([]string, 0, len(report.Cleanup.Directories))
		for path := range report.Cleanup.Directories {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			dir := report.Cleanup.Directories[path]
			for _, problem := range dir.Errors {
				fmt.Fprintf(w, "  %s %s: %s\n", neutralStyle.Render("!"), path, problem)
			}
		}
	}
}

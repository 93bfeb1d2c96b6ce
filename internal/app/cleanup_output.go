package app

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"platformctl/internal/cleanup"
)

func renderCleanup(w io.Writer, report cleanup.Report) {
	verb := "Removed"
	if report.DryRun {
		verb = "Would remove"
	}
	for _, p := range report.Policies {
		switch {
		case !p.Enabled:
			fmt.Fprintf(w, "%s: disabled\n", p.Path)
			continue
		case p.Missing:
			fmt.Fprintf(w, "%s: directory missing\n", p.Path)
			continue
		}
		fmt.Fprintf(w, "%s: %s %d files (%s)\n", p.Path, verb, p.FilesRemoved, humanize.IBytes(uint64(p.BytesFreed)))
		if report.DryRun {
			for _, path := range p.Removed {
				fmt.Fprintf(w, "  %s\n", path)
			}
		}
		for _, problem := range p.Errors {
			fmt.Fprintf(w, "  error: %s\n", problem)
		}
	}
	fmt.Fprintf(w, "%s %d files, %s total\n", verb, report.FilesRemoved, humanize.IBytes(uint64(report.BytesFreed)))
}

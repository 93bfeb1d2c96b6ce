package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"platformctl/internal/reporting"
)

func newStatusCmd() *cobra.Command {
	var (
		asJSON   bool
		copyURLs bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status report of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd, false)
			if err != nil {
				return err
			}
			report, err := application.Status()
			if err != nil {
				return err
			}

			if err := writeStatus(cmd.OutOrStdout(), *report, asJSON); err != nil {
				return err
			}
			if copyURLs {
				urls := report.HealthyURLs()
				if len(urls) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No healthy service URLs to copy.")
					return nil
				}
				if err := clipboard.WriteAll(strings.Join(urls, "\n")); err != nil {
					return fmt.Errorf("failed to copy URLs to clipboard: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Copied %d service URLs to clipboard.\n", len(urls))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON report")
	cmd.Flags().BoolVar(&copyURLs, "copy", false, "copy the URLs of healthy services to the clipboard")
	return cmd
}

func writeStatus(w io.Writer, report reporting.StatusReport, asJSON bool) error {
	if !asJSON {
		reporting.RenderSummary(w, report)
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

package cmd

import (
	"github.com/spf13/cobra"
)

func newUpCmd() *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run the orchestration once",
		Long: `Checks network reachability, applies the cleanup policies and starts
every enabled service tier by tier. Services that are already running and
healthy are left alone. Unhealthy services are reported but do not fail the
command; only an unreachable network or an invalid configuration does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd, tui)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			_, err = application.Up(ctx)
			return err
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "show progress in an interactive terminal view")
	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"

	"platformctl/internal/api"
	"platformctl/internal/cleanup"
	"platformctl/pkg/logging"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose platform operations as MCP tools over SSE",
		Long: `Starts an MCP server (SSE transport) with the tools platform_status,
platform_up, platform_down, service_restart, service_probe and cleanup_run.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd, false)
			if err != nil {
				return err
			}
			cfg := application.PlatformConfig()
			if !cmd.Flags().Changed("host") {
				host = cfg.API.Host
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.API.Port
			}

			server := api.NewServer(api.Config{
				Host:     host,
				Port:     port,
				Version:  rootCmd.Version,
				Platform: application.Components().Orchestrator,
				DryRunCleanup: cleanup.NewEngine(cfg.ResolvePath, cleanup.Options{
					DryRun:      true,
					Concurrency: cfg.Cleanup.Concurrency,
				}),
			})

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			logging.Info("CLI", "MCP endpoint: http://%s/sse", server.Addr())
			return server.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "listen host")
	cmd.Flags().IntVar(&port, "port", 8095, "listen port")
	return cmd
}

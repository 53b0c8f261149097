package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"m365gate/internal/app"
)

var (
	servePort   int
	serveMode   string
	serveSilent bool
)

// serveCmd starts the gateway and blocks until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long: `Starts the gateway: the REST tool surface under /v1, the MCP endpoints
under /mcp, the auth flows under /auth and the health and metrics endpoints.

Configuration is resolved in this order, later sources winning:
  1. built-in defaults
  2. config.yaml in --config-path (when given)
  3. M365GATE_* environment variables
  4. --port and --mode flags

When --config-path is set, changes to config.yaml hot-reload the CORS
allowlist and rate limits without a restart.

Under systemd with Type=notify the gateway reports READY=1 once listening
and STOPPING=1 when shutting down.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig()
	cfg.Port = servePort
	cfg.Mode = serveMode
	cfg.Silent = serveSilent

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Run mode: development or production (overrides mode)")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Discard all log output")
}

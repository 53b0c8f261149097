package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"m365gate/internal/app"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigInvalid indicates the effective configuration failed validation.
	ExitCodeConfigInvalid = 2
)

// Global flags shared by every subcommand.
var (
	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "m365gate",
	Short: "Authenticating gateway for Microsoft 365 tools",
	Long: `m365gate exposes a catalogue of Microsoft 365 tools (mail, calendar,
files, Teams, To Do, contacts and more) over REST and over MCP, the Model
Context Protocol, using JSON-RPC over server-sent events.

Callers authenticate with gateway-issued tokens, upstream access tokens or
a browser session. The gateway stores upstream tokens per user, refreshes
them silently and injects them into every upstream call.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "m365gate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if errors.Is(err, app.ErrInvalidConfig) {
		return ExitCodeConfigInvalid
	}
	return ExitCodeError
}

// appConfig builds the application settings from the global flags.
func appConfig() *app.Config {
	cfg := app.NewConfig(debug, configPath)
	cfg.Version = rootCmd.Version
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Directory containing config.yaml (default: built-in defaults plus M365GATE_* environment)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}

package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"m365gate/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or validate the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := app.LoadGatewayConfig(appConfig())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(gw.Redacted())
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration and exit non-zero when invalid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := app.LoadGatewayConfig(appConfig())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid (mode=%s, storage=%s, listen=%s)\n",
			text.FgGreen.Sprint("✓"), gw.Mode, gw.Storage.Backend, gw.ListenAddr())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)
}

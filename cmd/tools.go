package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"m365gate/internal/config"
	"m365gate/internal/graph"
	"m365gate/internal/modules"
	"m365gate/internal/tools"
)

var (
	toolsOutput string
	toolsScopes []string
	toolsModule string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalogue",
	Long: `Lists every tool the gateway exposes with its REST route and the
upstream scopes that unlock it.

With --scopes, only the tools unlocked by those scopes are shown, exactly as
/v1/permissions and MCP tools/list would report them for a caller holding
them.`,
	Example: `  m365gate tools
  m365gate tools --module mail -o json
  m365gate tools --scopes Mail.Read,Calendars.Read`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func catalogue() (*tools.Registry, error) {
	// The client is never called; listing needs only the method definitions.
	client := graph.New(graph.Config{BaseURL: config.DefaultGraphBaseURL})
	return tools.NewRegistry(modules.All(client)...)
}

func runTools(cmd *cobra.Command, args []string) error {
	registry, err := catalogue()
	if err != nil {
		return err
	}

	list := registry.Tools()
	if len(toolsScopes) > 0 {
		list = registry.ToolsFor(toolsScopes)
	}
	if toolsModule != "" {
		filtered := make([]tools.Tool, 0, len(list))
		for _, t := range list {
			if strings.EqualFold(t.Module, toolsModule) {
				filtered = append(filtered, t)
			}
		}
		list = filtered
	}

	return render(cmd.OutOrStdout(), toolsOutput, list, func(t table.Writer) {
		t.AppendHeader(header("NAME", "MODULE", "ROUTE", "SCOPES"))
		for _, tool := range list {
			t.AppendRow(table.Row{
				tool.Name,
				tool.Module,
				fmt.Sprintf("%s /v1%s", tool.HTTP.Method, tool.HTTP.Path),
				strings.Join(tool.Scopes, ", "),
			})
		}
		t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d tools", len(list))})
	})
}

func init() {
	rootCmd.AddCommand(toolsCmd)

	toolsCmd.Flags().StringVarP(&toolsOutput, "output", "o", OutputFormatTable, "Output format: table, json or yaml")
	toolsCmd.Flags().StringSliceVar(&toolsScopes, "scopes", nil, "Only show tools unlocked by these upstream scopes")
	toolsCmd.Flags().StringVar(&toolsModule, "module", "", "Only show tools of this module")
}

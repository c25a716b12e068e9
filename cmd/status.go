package cmd

import (
	"github.com/kerfworks/kerf/internal/mcpserver"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show dirty node counts per kind",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var project string
		if len(args) == 1 {
			project = args[0]
		}
		a, err := loadApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		counts, err := a.Status(cmd.Context(), project)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), counts)
	},
}

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Serve recalculation tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return mcpserver.Serve(a)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, serveMCPCmd)
}

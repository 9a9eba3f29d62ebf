package cmd

import (
	"fmt"

	"github.com/huangsam/feedmirror/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the feedmirror MCP server",
	Long: `Launch an MCP server on stdio that lets AI agents read cached snapshots,
inspect cache health and trigger refreshes.

The engine runs in the background while the server is up. Logs go to stderr
so stdout stays reserved for the protocol.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return sharedSetup(rootCtx, cmd, args)
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		engine, err := buildEngine(true)
		if err != nil {
			return err
		}
		if err := engine.Start(rootCtx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		defer func() { _ = engine.Stop() }()
		return mcp.StartMCPServer(rootCtx, cfg, engine.Cache())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

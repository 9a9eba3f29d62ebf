package cmd

import (
	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/outwriter"
	"github.com/spf13/cobra"
)

// statusCmd shows cache health without touching the network.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cache health for every configured collection",
	Long: `Show where each collection would be served from right now and whether
the stored snapshot passes the integrity checks.

Displays:
- Health label (Healthy, Stale, Degraded, Empty)
- Serving tier (memory, store, empty)
- Item, enrichment and coverage counts
- Snapshot age and refresher state
- Last audit and corruption count

This never calls the remote API and never triggers a refresh.

Examples:
  feedmirror status
  feedmirror status --output json --output-file status.json`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		engine, err := buildEngine(false)
		if err != nil {
			return err
		}
		var usage *core.LimiterUsage
		if u, ok := engine.Usage(); ok {
			usage = &u
		}
		return outwriter.NewOutWriter().WriteStatus(engine.Status(rootCtx), usage, cfg)
	},
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/outwriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// refreshCmd runs one refresh per collection in the foreground.
var refreshCmd = &cobra.Command{
	Use:   "refresh [collection...]",
	Short: "Run a refresh now and wait for it",
	Long: `Paginate the remote feed, enrich new or overdue items in paced batches
and merge the result into the store.

Batch pacing still applies, so a large backlog can take a while. Without
arguments every configured collection is refreshed in turn.

Examples:
  # Refresh everything configured
  feedmirror refresh

  # Refresh only runs, relaxing coverage checks
  feedmirror refresh runs --emergency`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		collections, err := selectCollections(args)
		if err != nil {
			return err
		}
		engine, err := buildEngine(true)
		if err != nil {
			return err
		}
		emergency := viper.GetBool("emergency")

		// Only the write retry worker runs; the background refreshers stay off
		engine.Cache().Start(rootCtx)
		defer engine.Cache().Stop()

		ow := outwriter.NewOutWriter()
		var failed []error
		for _, ct := range collections {
			r, err := engine.Refresher(ct)
			if err != nil {
				return err
			}
			report, runErr := r.RunNow(rootCtx, emergency)
			if err := ow.WriteRefresh(ct, report, cfg); err != nil {
				return err
			}
			if runErr != nil {
				contract.LogWarn(fmt.Sprintf("Refresh of %s failed", ct), runErr)
				failed = append(failed, fmt.Errorf("%s: %w", ct, runErr))
			}
		}
		return errors.Join(failed...)
	},
}

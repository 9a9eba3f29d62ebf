package cmd

import (
	"errors"
	"fmt"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/outwriter"
	"github.com/spf13/cobra"
)

// auditCmd runs the corruption audit in the foreground.
var auditCmd = &cobra.Command{
	Use:   "audit [collection...]",
	Short: "Compare stored items against live data and repair drift",
	Long: `Fetch canonical data from the remote feed, compare it item by item with
the stored snapshot and repair anything that disagrees.

Every flagged item is recorded in the run ledger. The command exits non-zero
when corruption was found so it can gate scripts.

Examples:
  # Audit every configured collection
  feedmirror audit

  # Audit rides and print JSON
  feedmirror audit rides --output json`,
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

		// Only the write retry worker runs; the background refreshers stay off
		engine.Cache().Start(rootCtx)
		defer engine.Cache().Stop()

		ow := outwriter.NewOutWriter()
		var failed []error
		for _, ct := range collections {
			report, runErr := engine.Audit(rootCtx, ct)
			if err := ow.WriteAudit(ct, report, cfg); err != nil {
				return err
			}
			if runErr != nil {
				contract.LogWarn(fmt.Sprintf("Audit of %s failed", ct), runErr)
				failed = append(failed, fmt.Errorf("%s: %w", ct, runErr))
				continue
			}
			if err := report.Err(); err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", ct, err))
			}
		}
		return errors.Join(failed...)
	},
}

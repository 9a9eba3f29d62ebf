package iocache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/parquet"
	"github.com/huangsam/feedmirror/schema"
)

// ExecuteLedgerExport exports the run ledger to Parquet files named after outputFile.
func ExecuteLedgerExport(w io.Writer, ledger contract.RunLedger, outputFile string) error {
	if outputFile == "" {
		return errors.New("--output-file is required for export command")
	}
	if ledger == nil {
		return errors.New("run ledger is not initialized")
	}

	status, err := ledger.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get ledger status: %w", err)
	}
	if status.TotalRuns == 0 {
		return errors.New("no run data found to export")
	}

	_, _ = fmt.Fprintf(w, "Exporting data from %s backend...\n", status.Backend)
	_, _ = fmt.Fprintf(w, "Total runs: %d\n", status.TotalRuns)
	_, _ = fmt.Fprintf(w, "Total corruption records: %d\n", status.TotalCorruptions)

	runs, err := ledger.GetAllRuns()
	if err != nil {
		return fmt.Errorf("failed to retrieve runs: %w", err)
	}
	corruptions, err := ledger.GetAllCorruptions()
	if err != nil {
		return fmt.Errorf("failed to retrieve corruptions: %w", err)
	}

	runsFile := outputFile + ".runs.parquet"
	if err := parquet.WriteRunsParquet(parquet.ConvertRunRecords(runs), runsFile); err != nil {
		return fmt.Errorf("failed to write runs: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d runs to: %s\n", len(runs), runsFile)

	corruptionsFile := outputFile + ".corruptions.parquet"
	if err := parquet.WriteCorruptionsParquet(parquet.ConvertCorruptionRecords(corruptions), corruptionsFile); err != nil {
		return fmt.Errorf("failed to write corruptions: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d corruption records to: %s\n", len(corruptions), corruptionsFile)

	_, _ = fmt.Fprintln(w, "\nExport complete! The Parquet files can be used with:")
	_, _ = fmt.Fprintln(w, "  - DuckDB")
	_, _ = fmt.Fprintln(w, "  - Pandas (via pyarrow)")
	_, _ = fmt.Fprintln(w, "  - Any other Parquet-compatible tool")
	return nil
}

// ExecuteSnapshotExport writes the stored snapshot of each collection as
// flattened items to <outputFile>.<collection>.parquet.
func ExecuteSnapshotExport(ctx context.Context, w io.Writer, store contract.SnapshotStore, project string, collections []schema.CollectionType, outputFile string) error {
	if outputFile == "" {
		return errors.New("--output-file is required for export command")
	}
	if store == nil {
		return errors.New("snapshot store is not initialized")
	}

	exported := 0
	for _, ct := range collections {
		blob, err := store.Read(ctx, ct, project)
		if errors.Is(err, contract.ErrSnapshotNotFound) {
			_, _ = fmt.Fprintf(w, "No stored snapshot for %s/%s, skipping\n", ct, project)
			continue
		}
		if err != nil {
			return err
		}
		snap, err := schema.DecodeSnapshot(blob)
		if err != nil {
			return fmt.Errorf("failed to decode snapshot %s/%s: %w", ct, project, err)
		}

		rows := parquet.ConvertSnapshot(snap)
		path := fmt.Sprintf("%s.%s.parquet", outputFile, ct)
		if err := parquet.WriteSnapshotItemsParquet(rows, path); err != nil {
			return fmt.Errorf("failed to write %s items: %w", ct, err)
		}
		_, _ = fmt.Fprintf(w, "Exported %d %s items to: %s\n", len(rows), ct, path)
		exported++
	}

	if exported == 0 {
		return errors.New("no snapshot data found to export")
	}
	return nil
}

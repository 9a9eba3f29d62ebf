package cmd

import (
	"fmt"
	"os"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/iocache"
	"github.com/huangsam/feedmirror/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// storeSetup loads minimal configuration needed for snapshot store operations.
// This is used by commands that need store access without full shared setup.
func storeSetup() error {
	if err := loadConfigFile(); err != nil {
		return err
	}

	backend := schema.DatabaseBackend(viper.GetString("store-backend"))
	connStr := viper.GetString("store-db-connect")
	if _, ok := schema.ValidDatabaseBackends[backend]; !ok {
		return fmt.Errorf("invalid store backend '%s'", backend)
	}
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return err
	}

	// Initialize the store only (no run tracking for cache commands)
	if err := iocache.InitStores(backend, connStr, "", ""); err != nil {
		return fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	cfg.StoreBackend = backend
	cfg.StoreDBConnect = connStr

	return nil
}

// storeSetupWrapper wraps storeSetup to provide PreRunE for cache commands.
func storeSetupWrapper(_ *cobra.Command, _ []string) error {
	return storeSetup()
}

// sqlitePath resolves the database file of a SQLite backend.
func sqlitePath(connStr, fallback string) string {
	if connStr != "" {
		return connStr
	}
	return fallback
}

// cacheCmd focused on snapshot store management.
//
// Note: status and clear use minimal initialization (storeSetup) instead of
// the full sharedSetup. This avoids token and threshold processing for
// simple store operations.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent snapshot store",
	Long: `Manage the persistent tier of the snapshot cache.

Supported backends: SQLite (default), MySQL, PostgreSQL, Redis, or None (memory only)

Subcommands:
  status - Show store statistics and connection info
  clear  - Remove every stored snapshot
  export - Export stored items to Parquet

Examples:
  # Check store status
  feedmirror cache status

  # Start from scratch
  feedmirror cache clear`,
}

// cacheClearCmd clears the snapshot store.
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored snapshot",
	Long: `Delete all snapshots from the configured backend.

The next read serves an empty snapshot and triggers an emergency refresh.

For SQLite: Deletes the database file
For MySQL/PostgreSQL: Drops the snapshot table
For Redis: Deletes every snapshot key

Examples:
  # Clear SQLite store (default)
  feedmirror cache clear

  # Clear a Redis store
  FEEDMIRROR_STORE_BACKEND=redis FEEDMIRROR_STORE_DB_CONNECT="redis://localhost:6379/0" feedmirror cache clear`,
	PreRunE: storeSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		// Release the handle opened by setup before the file or table goes away
		iocache.CloseStores()
		path := sqlitePath(cfg.StoreDBConnect, contract.GetStoreDBFilePath())
		if err := iocache.ClearStore(cfg.StoreBackend, path, cfg.StoreDBConnect); err != nil {
			contract.LogFatal("Failed to clear snapshot store", err)
		}
		fmt.Println("Snapshot store cleared successfully.")
	},
}

// cacheStatusCmd shows snapshot store status.
var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display snapshot store statistics and connection details",
	Long: `Show detailed information about the persistent snapshot store.

Displays:
- Backend type and connection status
- Number of stored snapshots
- Last and oldest write timestamps
- Store size

Examples:
  feedmirror cache status`,
	PreRunE: storeSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		status, err := iocache.Manager.GetSnapshotStore().GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get snapshot store status", err)
		}
		iocache.PrintStoreStatus(os.Stdout, status)
	},
}

// cacheExportCmd exports stored items to Parquet.
var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored items to Parquet for analytics",
	Long: `Flatten the stored snapshot of every configured collection into one
Parquet file per collection named <output-file>.<collection>.parquet.

Enrichment columns are null for kinds that were never fetched.

Requires: --output-file parameter

Examples:
  feedmirror cache export --collections runs,rides --output-file mirror
  duckdb -c "SELECT type, count(*) FROM read_parquet('mirror.*.parquet') GROUP BY 1"`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		store := iocache.Manager.GetSnapshotStore()
		if err := iocache.ExecuteSnapshotExport(rootCtx, os.Stdout, store, cfg.Project, cfg.Collections, cfg.OutputFile); err != nil {
			contract.LogFatal("Failed to export snapshots", err)
		}
	},
}

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

// ledgerBackendFromConfig reads and validates the ledger backend settings.
func ledgerBackendFromConfig() (schema.DatabaseBackend, string, error) {
	if err := loadConfigFile(); err != nil {
		return "", "", err
	}

	backend := schema.DatabaseBackend(viper.GetString("ledger-backend"))
	if backend == "" {
		backend = schema.NoneBackend
	}
	if _, ok := schema.ValidLedgerBackends[backend]; !ok {
		return "", "", fmt.Errorf("invalid ledger backend '%s'", backend)
	}
	connStr := viper.GetString("ledger-db-connect")
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return "", "", err
	}
	return backend, connStr, nil
}

// ledgerSetup loads minimal configuration needed for ledger operations.
func ledgerSetup() error {
	backend, connStr, err := ledgerBackendFromConfig()
	if err != nil {
		return err
	}

	// Initialize the ledger only (no snapshot store for ledger commands)
	if err := iocache.InitStores("", "", backend, connStr); err != nil {
		return fmt.Errorf("failed to initialize run ledger: %w", err)
	}

	cfg.LedgerBackend = backend
	cfg.LedgerDBConnect = connStr
	cfg.OutputFile = viper.GetString("output-file")

	return nil
}

// ledgerSetupWrapper wraps ledgerSetup to provide PreRunE for ledger commands.
func ledgerSetupWrapper(_ *cobra.Command, _ []string) error {
	return ledgerSetup()
}

// ledgerMigrateSetup does NOT open the ledger or create tables, so
// migrations can run on a fresh database.
func ledgerMigrateSetup(_ *cobra.Command, _ []string) error {
	backend, connStr, err := ledgerBackendFromConfig()
	if err != nil {
		return err
	}
	if backend == schema.SQLiteBackend && connStr == "" {
		connStr = contract.GetLedgerDBFilePath()
	}
	cfg.LedgerBackend = backend
	cfg.LedgerDBConnect = connStr
	return nil
}

// ledgerCmd focused on run history management.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the refresh and audit run history",
	Long: `Manage the run ledger that records every refresh and audit.

The ledger stores:
- Run metadata (kind, collection, timestamps, final state, counts)
- Every corrupted item found by an audit, with the reasons

Supported backends: SQLite (default), MySQL, PostgreSQL, or None (disabled)

Subcommands:
  status  - Show ledger statistics
  export  - Export runs and corruptions to Parquet
  clear   - Remove all run history
  migrate - Run database schema migrations`,
}

// ledgerClearCmd clears the run history.
var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all run history",
	Long: `Delete every recorded run and corruption entry.

WARNING: This action cannot be undone. Consider exporting data first.

Examples:
  feedmirror ledger export --output-file backup
  feedmirror ledger clear`,
	PreRunE: ledgerSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		iocache.CloseStores()
		path := sqlitePath(cfg.LedgerDBConnect, contract.GetLedgerDBFilePath())
		if err := iocache.ClearLedger(cfg.LedgerBackend, path, cfg.LedgerDBConnect); err != nil {
			contract.LogFatal("Failed to clear run ledger", err)
		}
		fmt.Println("Run ledger cleared successfully.")
	},
}

// ledgerStatusCmd shows ledger status.
var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display run ledger statistics and connection details",
	Long: `Show detailed information about the run ledger.

Displays:
- Backend type and connection status
- Total runs and corruption entries stored
- Last and oldest run timestamps
- Database table sizes

Examples:
  feedmirror ledger status`,
	PreRunE: ledgerSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		status, err := iocache.Manager.GetRunLedger().GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get ledger status", err)
		}
		iocache.PrintLedgerStatus(os.Stdout, status)
	},
}

// ledgerExportCmd exports run history to Parquet files.
var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export run history to Parquet for BI tools and analytics",
	Long: `Export all recorded runs and corruption entries to Parquet.

Writes <output-file>.runs.parquet and <output-file>.corruptions.parquet.

Requires: --output-file parameter

Examples:
  feedmirror ledger export --output-file feedmirror
  duckdb -c "SELECT state, count(*) FROM read_parquet('feedmirror.runs.parquet') GROUP BY 1"`,
	PreRunE: ledgerSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		if err := iocache.ExecuteLedgerExport(os.Stdout, iocache.Manager.GetRunLedger(), cfg.OutputFile); err != nil {
			contract.LogFatal("Failed to export run ledger", err)
		}
	},
}

// ledgerMigrateCmd runs database migrations for the run ledger.
var ledgerMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions for the run ledger.

By default, migrates to the latest version. Use --target-version for specific versions.

Examples:
  # Migrate to latest version (default)
  feedmirror ledger migrate

  # Rollback to the initial state
  feedmirror ledger migrate --target-version 0`,
	PreRunE: ledgerMigrateSetup,
	Run: func(_ *cobra.Command, _ []string) {
		targetVersion := viper.GetInt("target-version")
		if err := iocache.MigrateLedger(cfg.LedgerBackend, cfg.LedgerDBConnect, targetVersion); err != nil {
			contract.LogFatal("Failed to run migrations", err)
		}
	},
}

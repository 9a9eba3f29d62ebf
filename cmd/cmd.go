// Package cmd defines the command-line interface for feedmirror.
package cmd

import (
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(ledgerCmd)

	// Add the cache subcommands to the parent cache command
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheExportCmd)

	// Add the ledger subcommands to the parent ledger command
	ledgerCmd.AddCommand(ledgerClearCmd)
	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)
	ledgerCmd.AddCommand(ledgerMigrateCmd)

	// Bind all persistent flags of rootCmd to Viper
	flags := rootCmd.PersistentFlags()
	flags.String("project", contract.DefaultProject, "Project key the snapshots are stored under")
	flags.String("collections", string(schema.ActivitiesCollection), "Comma-separated collection types: activities, runs, rides")
	flags.String("activity-types", "", "Comma-separated activity types kept by every collection (overrides the per-collection defaults)")
	flags.String("cutoff-date", "", "Drop items that started before this date (YYYY-MM-DD)")
	flags.String("api-base-url", contract.DefaultAPIBaseURL, "Base URL of the remote API")
	flags.String("token", "", "Access token for the remote API (prefer FEEDMIRROR_TOKEN)")
	flags.String("token-file", "", "File holding the access token, re-read after the token is rejected")
	flags.Int("page-size", contract.DefaultPageSize, "Items requested per listing page")
	flags.Int("batch-size", contract.DefaultBatchSize, "Items enriched per batch")
	flags.String("batch-pacing", "15m", "Pause between enrichment batches")
	flags.String("memory-ttl", "5m", "How long a snapshot stays in the memory tier")
	flags.String("refresh-interval", "6h", "Age after which a snapshot is refreshed in the background")
	flags.String("fresh-window", "1h", "Window in which a snapshot is trusted regardless of coverage")
	flags.String("failure-cooldown", "10m", "Minimum time between a failed run and the next trigger")
	flags.Float64("min-completeness", contract.DefaultMinCompleteness, "Share of items that must carry every core field")
	flags.Float64("min-coverage", contract.DefaultMinCoverage, "Share of items that must carry enrichments")
	flags.Float64("min-recent-coverage", contract.DefaultMinRecentCoverage, "Share of the newest items that must carry enrichments")
	flags.String("short-window", "15m", "Length of the short rate-limit window")
	flags.Int("short-limit", contract.DefaultShortLimit, "Calls allowed per short window")
	flags.Int("daily-limit", contract.DefaultDailyLimit, "Calls allowed per UTC day")
	flags.Float64("request-rate", contract.DefaultRequestRate, "Maximum requests per second (0 disables spacing)")
	flags.String("request-timeout", "30s", "Timeout of a single remote request")
	flags.String("photos-ttl", "14d", "How long after an item starts its photos are still fetched")
	flags.String("comments-ttl", "30d", "How long after an item starts its comments are still fetched")
	flags.String("description-ttl", "30d", "How long after an item starts its description is still fetched")
	flags.String("geo-ttl", "90d", "How long after an item starts its route is still fetched")
	flags.String("audit-at", contract.DefaultAuditAt, "UTC time of the daily corruption audit (HH:MM)")
	flags.String("store-backend", string(schema.SQLiteBackend), "Snapshot store backend: sqlite or mysql or postgresql or redis or none")
	flags.String("store-db-connect", "", "Connection string for the snapshot store (e.g., user:pass@tcp(host:port)/dbname or redis://host:6379/0)")
	flags.String("ledger-backend", string(schema.SQLiteBackend), "Run ledger backend: sqlite or mysql or postgresql or none")
	flags.String("ledger-db-connect", "", "Connection string for the run ledger (must differ from store-db-connect)")
	flags.Int("retry-attempts", contract.DefaultRetryAttempts, "Attempts for a failed persistent write")
	flags.String("retry-backoff", "30s", "Initial back-off between persistent write attempts")
	flags.String("log-level", "info", "Log level: debug or info or warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("output", string(schema.TextOut), "Output format: text or json")
	flags.String("output-file", "", "Optional path to write output to")
	flags.String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	flags.Int("width", 0, "Terminal width override (0 = auto-detect)")
	flags.String("config", "", "Path to config file")
	if err := viper.BindPFlags(flags); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of serveCmd to Viper
	serveCmd.Flags().String("metrics-addr", ":9464", "Address for the Prometheus /metrics endpoint (empty disables it)")
	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		contract.LogFatal("Error binding serve flags", err)
	}

	// Bind all flags of refreshCmd to Viper
	refreshCmd.Flags().Bool("emergency", false, "Relax coverage checks for this run")
	if err := viper.BindPFlags(refreshCmd.Flags()); err != nil {
		contract.LogFatal("Error binding refresh flags", err)
	}

	// Bind all flags of ledgerMigrateCmd to Viper
	ledgerMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(ledgerMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding ledger migrate flags", err)
	}
}

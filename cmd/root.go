package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/iocache"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/internal/remote"
	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// All linker flags will be set by goreleaser infra at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCtx is the root context for all operations.
var rootCtx = context.Background()

// cfg will hold the validated, final configuration.
var cfg = &contract.Config{}

// input holds the raw, unvalidated configuration from all sources (file, env, flags).
// Viper will unmarshal into this struct.
var input = &contract.ConfigRawInput{}

// logger is built from the validated configuration in sharedSetup.
var logger = logging.Discard()

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:                "feedmirror",
	Short:              "Mirror a remote activity feed into a local, rate-limit aware cache.",
	Long:               `feedmirror keeps a trustworthy local copy of an activity feed and its enrichments without blowing the API budget.`,
	Version:            version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	DisableSuggestions: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Check if a specific config file is provided
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".feedmirror") // Name of config file (without extension)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("FEEDMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // Read in environment variables that match

	// Set defaults in Viper
	viper.SetDefault("project", contract.DefaultProject)
	viper.SetDefault("collections", string(schema.ActivitiesCollection))
	viper.SetDefault("api-base-url", contract.DefaultAPIBaseURL)
	viper.SetDefault("request-rate", contract.DefaultRequestRate)
	viper.SetDefault("output", schema.TextOut)
	viper.SetDefault("store-backend", schema.SQLiteBackend)
	viper.SetDefault("store-db-connect", "")
	viper.SetDefault("ledger-backend", schema.SQLiteBackend)
	viper.SetDefault("ledger-db-connect", "")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")
	viper.SetDefault("color", "yes")
}

// sharedSetup unmarshals config, runs validation and opens the stores.
func sharedSetup(_ context.Context, _ *cobra.Command, _ []string) error {
	// 1. Read config file. This merges defaults, file, env, and flags.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, which is fine; we'll use defaults/env/flags.
	}

	// 2. Unmarshal all resolved values from Viper into our raw input struct.
	if err := viper.Unmarshal(input); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	// 3. Run all validation and complex parsing.
	if err := contract.ProcessAndValidate(cfg, input); err != nil {
		return err
	}

	// 4. Build the structured logger.
	l, err := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		return err
	}
	logger = l

	// 5. Initialize persistence layer with validated config
	if err := iocache.InitStores(cfg.StoreBackend, cfg.StoreDBConnect, cfg.LedgerBackend, cfg.LedgerDBConnect); err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	return nil
}

// sharedSetupWrapper wraps sharedSetup to provide context for Cobra's PreRunE.
func sharedSetupWrapper(cmd *cobra.Command, args []string) error {
	return sharedSetup(rootCtx, cmd, args)
}

// loadConfigFile handles config file loading logic common to all setup functions.
func loadConfigFile() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".feedmirror")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// buildEngine wires the engine over the initialized stores. Commands that
// never reach the remote source pass requireToken=false.
func buildEngine(requireToken bool) (*core.Engine, error) {
	store := iocache.Manager.GetSnapshotStore()
	if store == nil {
		return nil, fmt.Errorf("snapshot store is not initialized")
	}

	var tokens contract.TokenGuard
	guard, err := remote.NewTokenGuard(cfg)
	switch {
	case err == nil:
		tokens = guard
	case requireToken:
		return nil, err
	default:
		tokens = remote.NewStaticTokenGuard("")
	}

	budget := core.NewRateLimiter(core.LimiterConfig{
		ShortWindow: cfg.ShortWindow,
		ShortLimit:  cfg.ShortLimit,
		DailyLimit:  cfg.DailyLimit,
	}, nil)
	client := remote.NewClient(remote.ConfigFromSettings(cfg), budget, logger)

	return core.NewEngine(cfg, core.Dependencies{
		Store:  store,
		Ledger: iocache.Manager.GetRunLedger(),
		Remote: client,
		Tokens: tokens,
		Budget: budget,
		Logger: logger,
	})
}

// selectCollections narrows the configured collections to the named ones.
func selectCollections(args []string) ([]schema.CollectionType, error) {
	if len(args) == 0 {
		return cfg.Collections, nil
	}
	out := make([]schema.CollectionType, 0, len(args))
	for _, arg := range args {
		ct := schema.CollectionType(strings.ToLower(arg))
		found := false
		for _, configured := range cfg.Collections {
			if configured == ct {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("collection %q is not configured (configured: %v)", arg, cfg.Collections)
		}
		out = append(out, ct)
	}
	return out, nil
}

// logFields adds the project to every command-level log line.
func logFields() logrus.Fields {
	return logrus.Fields{"project": cfg.Project}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

package contract

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/huangsam/feedmirror/schema"
)

// Default values for configuration.
const (
	DefaultProject           = "default"
	DefaultAPIBaseURL        = "https://www.strava.com/api/v3"
	DefaultPageSize          = 100
	MaxPageSize              = 200
	DefaultBatchSize         = 20
	DefaultBatchPacing       = 15 * time.Minute
	DefaultMemoryTTL         = 5 * time.Minute
	DefaultRefreshInterval   = 6 * time.Hour
	DefaultFreshWindow       = time.Hour
	DefaultFailureCooldown   = 10 * time.Minute
	DefaultMinCompleteness   = 0.90
	DefaultMinCoverage       = 0.30
	DefaultMinRecentCoverage = 0.90
	DefaultShortWindow       = 15 * time.Minute
	DefaultShortLimit        = 100
	DefaultDailyLimit        = 1000
	DefaultRequestRate       = 2.0
	DefaultRequestTimeout    = 30 * time.Second
	DefaultPhotosTTL         = 14 * 24 * time.Hour
	DefaultCommentsTTL       = 30 * 24 * time.Hour
	DefaultDescriptionTTL    = 30 * 24 * time.Hour
	DefaultGeoTTL            = 90 * 24 * time.Hour
	DefaultAuditAt           = "03:30"
	DefaultRetryAttempts     = 10
	DefaultRetryBackoff      = 30 * time.Second
	DefaultTransientAttempts = 3
)

// DateTimeFormat is the default date time representation.
var DateTimeFormat = time.RFC3339

// Config holds the runtime configuration for the mirror.
// This struct is the "final, validated" config.
type Config struct {
	Project       string
	Collections   []schema.CollectionType
	ActivityTypes []string  // overrides the per-collection defaults when set
	CutoffDate    time.Time // zero means no cutoff

	APIBaseURL     string
	Token          string // Please use env var as this is plaintext
	TokenFile      string
	PageSize       int
	RequestRate    float64 // requests per second, 0 disables spacing
	RequestTimeout time.Duration

	BatchSize       int
	BatchPacing     time.Duration
	MemoryTTL       time.Duration
	RefreshInterval time.Duration
	FreshWindow     time.Duration
	FailureCooldown time.Duration

	MinCompleteness   float64
	MinCoverage       float64
	MinRecentCoverage float64

	ShortWindow time.Duration
	ShortLimit  int
	DailyLimit  int

	// EnrichmentTTLs maps each enrichment kind to how long after an item's
	// start date it is still worth fetching.
	EnrichmentTTLs map[schema.EnrichmentKind]time.Duration

	AuditHour   uint
	AuditMinute uint

	StoreBackend   schema.DatabaseBackend
	StoreDBConnect string // Please use env var as this is plaintext

	LedgerBackend   schema.DatabaseBackend
	LedgerDBConnect string // Please use env var as this is plaintext

	RetryAttempts int
	RetryBackoff  time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string

	Output     schema.OutputMode
	OutputFile string
	UseColors  bool // Enable colored labels in table output
	Width      int  // Terminal width override (0 = auto-detect)
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	Project       string `mapstructure:"project"`
	Collections   string `mapstructure:"collections"`
	ActivityTypes string `mapstructure:"activity-types"`
	CutoffDate    string `mapstructure:"cutoff-date"`

	APIBaseURL     string  `mapstructure:"api-base-url"`
	Token          string  `mapstructure:"token"`
	TokenFile      string  `mapstructure:"token-file"`
	PageSize       int     `mapstructure:"page-size"`
	RequestRate    float64 `mapstructure:"request-rate"`
	RequestTimeout string  `mapstructure:"request-timeout"`

	BatchSize       int    `mapstructure:"batch-size"`
	BatchPacing     string `mapstructure:"batch-pacing"`
	MemoryTTL       string `mapstructure:"memory-ttl"`
	RefreshInterval string `mapstructure:"refresh-interval"`
	FreshWindow     string `mapstructure:"fresh-window"`
	FailureCooldown string `mapstructure:"failure-cooldown"`

	MinCompleteness   float64 `mapstructure:"min-completeness"`
	MinCoverage       float64 `mapstructure:"min-coverage"`
	MinRecentCoverage float64 `mapstructure:"min-recent-coverage"`

	ShortWindow string `mapstructure:"short-window"`
	ShortLimit  int    `mapstructure:"short-limit"`
	DailyLimit  int    `mapstructure:"daily-limit"`

	PhotosTTL      string `mapstructure:"photos-ttl"`
	CommentsTTL    string `mapstructure:"comments-ttl"`
	DescriptionTTL string `mapstructure:"description-ttl"`
	GeoTTL         string `mapstructure:"geo-ttl"`

	AuditAt string `mapstructure:"audit-at"`

	StoreBackend    string `mapstructure:"store-backend"`
	StoreDBConnect  string `mapstructure:"store-db-connect"`
	LedgerBackend   string `mapstructure:"ledger-backend"`
	LedgerDBConnect string `mapstructure:"ledger-db-connect"`

	RetryAttempts int    `mapstructure:"retry-attempts"`
	RetryBackoff  string `mapstructure:"retry-backoff"`

	MetricsAddr string `mapstructure:"metrics-addr"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`

	Output     string `mapstructure:"output"`
	OutputFile string `mapstructure:"output-file"`
	Color      string `mapstructure:"color"`
	Width      int    `mapstructure:"width"`
}

// Clone returns a deep copy of the Config struct.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Collections = slices.Clone(c.Collections)
	clone.ActivityTypes = slices.Clone(c.ActivityTypes)
	if c.EnrichmentTTLs != nil {
		clone.EnrichmentTTLs = make(map[schema.EnrichmentKind]time.Duration, len(c.EnrichmentTTLs))
		for k, v := range c.EnrichmentTTLs {
			clone.EnrichmentTTLs[k] = v
		}
	}
	return &clone
}

// TypesFor returns the activity types kept by a collection.
// A nil result means every type is kept.
func (c *Config) TypesFor(ct schema.CollectionType) []string {
	if len(c.ActivityTypes) > 0 {
		return c.ActivityTypes
	}
	return schema.DefaultActivityTypes(ct)
}

// ProcessAndValidate performs all parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(cfg *Config, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := processCollections(cfg, input); err != nil {
		return err
	}
	if err := processDurations(cfg, input); err != nil {
		return err
	}
	if err := processThresholds(cfg, input); err != nil {
		return err
	}
	if err := validateBackendConfigs(cfg, input); err != nil {
		return err
	}
	return nil
}

// ValidateDatabaseConnectionString validates the format of connection strings
// for the MySQL, PostgreSQL and Redis backends.
func ValidateDatabaseConnectionString(backend schema.DatabaseBackend, connStr string) error {
	switch backend {
	case schema.SQLiteBackend, schema.NoneBackend:
		return nil
	case schema.MySQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "@tcp(") {
			return fmt.Errorf("MySQL connection string must contain '@tcp(' for host:port specification")
		}
		if _, err := mysql.ParseDSN(connStr); err != nil {
			return fmt.Errorf("MySQL connection string is malformed: %w", err)
		}
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "host=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
		}
		if !strings.Contains(connStr, "dbname=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
		}
	case schema.RedisBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		u, err := url.Parse(connStr)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") || u.Host == "" {
			return fmt.Errorf("Redis connection string must look like redis://host:port/db")
		}
	}
	return nil
}

// validateBackendConfigs validates snapshot store and run ledger backend configurations.
func validateBackendConfigs(cfg *Config, input *ConfigRawInput) error {
	// --- Snapshot Store Validation ---
	cfg.StoreBackend = schema.DatabaseBackend(strings.ToLower(input.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.StoreBackend]; !ok {
		return fmt.Errorf("invalid store backend '%s'. must be sqlite, mysql, postgresql, redis, none", input.StoreBackend)
	}
	cfg.StoreDBConnect = input.StoreDBConnect
	if err := ValidateDatabaseConnectionString(cfg.StoreBackend, cfg.StoreDBConnect); err != nil {
		return err
	}

	// --- Run Ledger Validation ---
	cfg.LedgerBackend = schema.DatabaseBackend(strings.ToLower(input.LedgerBackend))
	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidLedgerBackends[cfg.LedgerBackend]; !ok {
		return fmt.Errorf("invalid ledger backend '%s'. must be sqlite, mysql, postgresql, none", input.LedgerBackend)
	}
	cfg.LedgerDBConnect = input.LedgerDBConnect
	if err := ValidateDatabaseConnectionString(cfg.LedgerBackend, cfg.LedgerDBConnect); err != nil {
		return err
	}

	// For SQLite, resolve to actual file paths to catch default path conflicts
	if cfg.StoreBackend == schema.SQLiteBackend && cfg.LedgerBackend == schema.SQLiteBackend {
		storePath := cfg.StoreDBConnect
		if storePath == "" {
			storePath = GetStoreDBFilePath()
		}
		ledgerPath := cfg.LedgerDBConnect
		if ledgerPath == "" {
			ledgerPath = GetLedgerDBFilePath()
		}
		if storePath == ledgerPath {
			return fmt.Errorf("store and ledger must use different SQLite database files. Both resolve to %q", storePath)
		}
	}

	return nil
}

// validateSimpleInputs processes and validates the scalar fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.Project = strings.TrimSpace(input.Project)
	if cfg.Project == "" {
		cfg.Project = DefaultProject
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(input.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api-base-url %q", input.APIBaseURL)
	}
	cfg.Token = strings.TrimSpace(input.Token)
	cfg.TokenFile = strings.TrimSpace(input.TokenFile)
	cfg.MetricsAddr = input.MetricsAddr
	cfg.OutputFile = input.OutputFile
	cfg.Width = input.Width

	cfg.LogLevel = strings.ToLower(input.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(input.LogFormat)
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format '%s'. must be text, json", input.LogFormat)
	}

	cfg.UseColors = true
	if input.Color != "" {
		colors, err := ParseBoolString(input.Color)
		if err != nil {
			return fmt.Errorf("invalid --color value: %w", err)
		}
		cfg.UseColors = colors
	}

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if cfg.Output == "" {
		cfg.Output = schema.TextOut
	}
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, json", input.Output)
	}

	cfg.PageSize = input.PageSize
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		return fmt.Errorf("page-size must be between 1 and %d (received %d)", MaxPageSize, input.PageSize)
	}

	cfg.BatchSize = input.BatchSize
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch-size must be greater than 0 (received %d)", input.BatchSize)
	}

	cfg.ShortLimit = input.ShortLimit
	if cfg.ShortLimit == 0 {
		cfg.ShortLimit = DefaultShortLimit
	}
	cfg.DailyLimit = input.DailyLimit
	if cfg.DailyLimit == 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.ShortLimit < 1 || cfg.DailyLimit < 1 {
		return fmt.Errorf("short-limit and daily-limit must be greater than 0")
	}
	if cfg.ShortLimit > cfg.DailyLimit {
		return fmt.Errorf("short-limit (%d) cannot exceed daily-limit (%d)", cfg.ShortLimit, cfg.DailyLimit)
	}

	if input.RequestRate < 0 {
		return fmt.Errorf("request-rate cannot be negative (received %.2f)", input.RequestRate)
	}
	cfg.RequestRate = input.RequestRate

	cfg.RetryAttempts = input.RetryAttempts
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry-attempts must be greater than 0 (received %d)", input.RetryAttempts)
	}

	auditAt := input.AuditAt
	if auditAt == "" {
		auditAt = DefaultAuditAt
	}
	hour, minute, err := ParseClock(auditAt)
	if err != nil {
		return fmt.Errorf("invalid --audit-at value: %w", err)
	}
	cfg.AuditHour, cfg.AuditMinute = hour, minute

	return nil
}

// processCollections handles the collection list, type overrides and cutoff date.
func processCollections(cfg *Config, input *ConfigRawInput) error {
	cfg.Collections = nil
	for _, part := range splitList(input.Collections) {
		ct := schema.CollectionType(strings.ToLower(part))
		if _, ok := schema.ValidCollectionTypes[ct]; !ok {
			return fmt.Errorf("invalid collection '%s'. must be activities, runs, rides", part)
		}
		if !slices.Contains(cfg.Collections, ct) {
			cfg.Collections = append(cfg.Collections, ct)
		}
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = []schema.CollectionType{schema.ActivitiesCollection}
	}

	cfg.ActivityTypes = splitList(input.ActivityTypes)

	cutoff, err := ParseCutoffDate(input.CutoffDate)
	if err != nil {
		return err
	}
	cfg.CutoffDate = cutoff
	return nil
}

// processDurations parses every duration-valued key, falling back to defaults.
func processDurations(cfg *Config, input *ConfigRawInput) error {
	fields := []struct {
		key string
		raw string
		def time.Duration
		dst *time.Duration
	}{
		{"request-timeout", input.RequestTimeout, DefaultRequestTimeout, &cfg.RequestTimeout},
		{"batch-pacing", input.BatchPacing, DefaultBatchPacing, &cfg.BatchPacing},
		{"memory-ttl", input.MemoryTTL, DefaultMemoryTTL, &cfg.MemoryTTL},
		{"refresh-interval", input.RefreshInterval, DefaultRefreshInterval, &cfg.RefreshInterval},
		{"fresh-window", input.FreshWindow, DefaultFreshWindow, &cfg.FreshWindow},
		{"failure-cooldown", input.FailureCooldown, DefaultFailureCooldown, &cfg.FailureCooldown},
		{"short-window", input.ShortWindow, DefaultShortWindow, &cfg.ShortWindow},
		{"retry-backoff", input.RetryBackoff, DefaultRetryBackoff, &cfg.RetryBackoff},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s value: %w", f.key, err)
		}
		*f.dst = d
	}

	ttls := []struct {
		kind schema.EnrichmentKind
		key  string
		raw  string
		def  time.Duration
	}{
		{schema.PhotosKind, "photos-ttl", input.PhotosTTL, DefaultPhotosTTL},
		{schema.CommentsKind, "comments-ttl", input.CommentsTTL, DefaultCommentsTTL},
		{schema.DescriptionKind, "description-ttl", input.DescriptionTTL, DefaultDescriptionTTL},
		{schema.GeoKind, "geo-ttl", input.GeoTTL, DefaultGeoTTL},
	}
	cfg.EnrichmentTTLs = make(map[schema.EnrichmentKind]time.Duration, len(ttls))
	for _, t := range ttls {
		if t.raw == "" {
			cfg.EnrichmentTTLs[t.kind] = t.def
			continue
		}
		d, err := ParseDuration(t.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s value: %w", t.key, err)
		}
		cfg.EnrichmentTTLs[t.kind] = d
	}
	return nil
}

// processThresholds range-checks the validator thresholds.
func processThresholds(cfg *Config, input *ConfigRawInput) error {
	thresholds := []struct {
		key string
		raw float64
		def float64
		dst *float64
	}{
		{"min-completeness", input.MinCompleteness, DefaultMinCompleteness, &cfg.MinCompleteness},
		{"min-coverage", input.MinCoverage, DefaultMinCoverage, &cfg.MinCoverage},
		{"min-recent-coverage", input.MinRecentCoverage, DefaultMinRecentCoverage, &cfg.MinRecentCoverage},
	}
	for _, th := range thresholds {
		v := th.raw
		if v == 0 {
			v = th.def
		}
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0 (received %.2f)", th.key, th.raw)
		}
		*th.dst = v
	}
	return nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package schema

import "time"

// StoreStatus represents the status of the snapshot store.
type StoreStatus struct {
	Backend         string    `json:"backend"`
	Connected       bool      `json:"connected"`
	TotalEntries    int       `json:"total_entries"`
	LastEntryTime   time.Time `json:"last_entry_time"`
	OldestEntryTime time.Time `json:"oldest_entry_time"`
	TableSizeBytes  int64     `json:"table_size_bytes"`
}

// LedgerStatus represents the status of the run ledger.
type LedgerStatus struct {
	Backend          string           `json:"backend"`
	Connected        bool             `json:"connected"`
	TotalRuns        int              `json:"total_runs"`
	LastRunID        int64            `json:"last_run_id"`
	LastRunTime      time.Time        `json:"last_run_time"`
	OldestRunTime    time.Time        `json:"oldest_run_time"`
	TotalCorruptions int              `json:"total_corruptions"`
	TableSizes       map[string]int64 `json:"table_sizes"`
}

// CacheHealth is the observability view of one collection's cache.
type CacheHealth struct {
	CollectionType        CollectionType `json:"collection_type"`
	Project               string         `json:"project"`
	Source                ReadSource     `json:"source"`
	Valid                 bool           `json:"valid"`
	ShouldRefresh         bool           `json:"should_refresh"`
	Reason                string         `json:"reason"`
	ItemCount             int            `json:"item_count"`
	CompleteCount         int            `json:"complete_count"`
	EnrichedCount         int            `json:"enriched_count"`
	Coverage              float64        `json:"coverage"`
	RecentCoverage        float64        `json:"recent_coverage"`
	Age                   time.Duration  `json:"age"`
	BatchingInProgress    bool           `json:"batching_in_progress"`
	RefreshState          RefreshState   `json:"refresh_state"`
	LastCorruptionCheckAt *time.Time     `json:"last_corruption_check_at,omitempty"`
	CorruptedCount        int            `json:"corrupted_count"`
}

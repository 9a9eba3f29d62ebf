package schema

import "time"

// RunRecord represents a row from the feedmirror_runs table.
type RunRecord struct {
	RunID          int64
	CollectionType string
	Project        string
	Kind           string
	StartTime      time.Time
	EndTime        *time.Time
	DurationMs     *int32
	State          string
	ItemsListed    int32
	ItemsEnriched  int32
	Error          *string
}

// RunOutcome is what a finished refresh or audit run reports to the ledger.
type RunOutcome struct {
	EndTime       time.Time
	State         RefreshState
	ItemsListed   int
	ItemsEnriched int
	Err           error
}

// CorruptionRecord represents a row from the feedmirror_corruptions table.
type CorruptionRecord struct {
	RunID          int64
	CollectionType string
	Project        string
	ItemID         int64
	ItemName       string
	Reasons        string
	DetectedAt     time.Time
}

// Package contract provides interfaces and shared utilities for internal architecture.
package contract

import (
	"context"
	"time"

	"github.com/huangsam/feedmirror/schema"
)

// TokenGuard hands out a valid access token for the remote source.
// How the token is acquired or refreshed is up to the implementation.
type TokenGuard interface {
	// GetValidToken returns a token that is currently believed to be valid.
	// It may refresh or block briefly.
	GetValidToken(ctx context.Context) (string, error)

	// InvalidateToken marks the current token as rejected so the next
	// GetValidToken call refreshes it.
	InvalidateToken()
}

// RemoteSource defines the operations needed to mirror the remote activity feed.
// This allows the refresh logic to be tested without a real API.
type RemoteSource interface {
	// ListBasic returns one page (1-based) of basic item records, newest first.
	// A page shorter than pageSize is the last page.
	ListBasic(ctx context.Context, token string, page, pageSize int) ([]schema.Item, error)

	// FetchEnrichment fetches one enrichment kind for one item.
	FetchEnrichment(ctx context.Context, itemID int64, kind schema.EnrichmentKind, token string) (schema.Enrichment, error)
}

// CallBudget guards the external call budget of the remote source.
// Denials are soft: callers back off rather than fail.
type CallBudget interface {
	TryAcquire() (bool, string)
	RecordCall()
}

// RunLedger defines the interface for tracking refresh and audit runs.
type RunLedger interface {
	// BeginRun creates a new run and returns its unique ID
	BeginRun(ct schema.CollectionType, project string, kind schema.RunKind, startTime time.Time) (int64, error)

	// EndRun updates the run with completion data
	EndRun(runID int64, outcome schema.RunOutcome) error

	// RecordCorruptions stores the corruption entries found by an audit run
	RecordCorruptions(runID int64, ct schema.CollectionType, project string, detectedAt time.Time, entries []schema.CorruptionEntry) error

	// GetStatus returns status information about the ledger
	GetStatus() (schema.LedgerStatus, error)

	// GetAllRuns returns every recorded run
	GetAllRuns() ([]schema.RunRecord, error)

	// GetAllCorruptions returns every recorded corruption entry
	GetAllCorruptions() ([]schema.CorruptionRecord, error)

	// Close closes the underlying connection
	Close() error
}

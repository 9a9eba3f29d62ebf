package iocache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// Table names for run tracking.
const (
	runsTable        = "feedmirror_runs"
	corruptionsTable = "feedmirror_corruptions"
)

// RunLedgerImpl implements the RunLedger interface on a SQL backend.
type RunLedgerImpl struct {
	db      *sql.DB
	backend schema.DatabaseBackend
}

var _ contract.RunLedger = &RunLedgerImpl{} // Compile-time check

// NewRunLedger creates a new RunLedger with the specified backend.
func NewRunLedger(backend schema.DatabaseBackend, connStr string) (contract.RunLedger, error) {
	if backend == schema.NoneBackend {
		// Return a no-op ledger for disabled tracking
		return &RunLedgerImpl{backend: backend}, nil
	}

	db, err := openSQL(backend, connStr, GetLedgerDBFilePath())
	if err != nil {
		return nil, err
	}

	if err := createLedgerTables(db, backend); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger tables: %w", err)
	}

	return &RunLedgerImpl{db: db, backend: backend}, nil
}

// createLedgerTables applies the embedded up migrations. Each one is
// idempotent so a later MigrateLedger run sees no conflict.
func createLedgerTables(db *sql.DB, backend schema.DatabaseBackend) error {
	stmts, err := upMigrations(backend)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (rl *RunLedgerImpl) disabled() bool {
	return rl.backend == schema.NoneBackend || rl.db == nil
}

// BeginRun creates a new run and returns its unique ID.
func (rl *RunLedgerImpl) BeginRun(ct schema.CollectionType, project string, kind schema.RunKind, startTime time.Time) (int64, error) {
	if rl.disabled() {
		return 0, nil
	}

	quotedTableName := quoteTableName(runsTable, rl.backend)
	state := string(schema.StateAcquiringToken)

	var runID int64
	var err error
	switch rl.backend {
	case schema.PostgreSQLBackend:
		query := fmt.Sprintf(`INSERT INTO %s (collection_type, project, run_kind, start_time, state) VALUES ($1, $2, $3, $4, $5) RETURNING run_id`, quotedTableName)
		err = rl.db.QueryRow(query, string(ct), project, string(kind), formatTime(startTime, rl.backend), state).Scan(&runID)
	default: // SQLite and MySQL
		query := fmt.Sprintf(`INSERT INTO %s (collection_type, project, run_kind, start_time, state) VALUES (?, ?, ?, ?, ?)`, quotedTableName)
		var result sql.Result
		result, err = rl.db.Exec(query, string(ct), project, string(kind), formatTime(startTime, rl.backend), state)
		if err == nil {
			runID, err = result.LastInsertId()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	return runID, nil
}

// EndRun updates the run with completion data.
func (rl *RunLedgerImpl) EndRun(runID int64, outcome schema.RunOutcome) error {
	if rl.disabled() {
		return nil
	}

	quotedTableName := quoteTableName(runsTable, rl.backend)

	// First, get the start_time to calculate duration
	query := fmt.Sprintf(`SELECT start_time FROM %s WHERE run_id = %s`, quotedTableName, placeholder(rl.backend, 1))
	start := timeScanner{backend: rl.backend}
	if err := rl.db.QueryRow(query, runID).Scan(start.dest()); err != nil {
		return fmt.Errorf("failed to get start_time for run %d: %w", runID, err)
	}
	startTime, err := start.value()
	if err != nil {
		return err
	}
	if startTime == nil {
		return fmt.Errorf("run %d has no start_time", runID)
	}

	durationMs := outcome.EndTime.Sub(*startTime).Milliseconds()
	var errMsg *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errMsg = &msg
	}

	args := []any{
		formatTime(outcome.EndTime, rl.backend), durationMs, string(outcome.State),
		outcome.ItemsListed, outcome.ItemsEnriched, errMsg, runID,
	}
	var updateQuery string
	switch rl.backend {
	case schema.PostgreSQLBackend:
		updateQuery = fmt.Sprintf(`UPDATE %s SET end_time = $1, run_duration_ms = $2, state = $3, items_listed = $4, items_enriched = $5, error_message = $6 WHERE run_id = $7`, quotedTableName)
	default: // SQLite and MySQL
		updateQuery = fmt.Sprintf(`UPDATE %s SET end_time = ?, run_duration_ms = ?, state = ?, items_listed = ?, items_enriched = ?, error_message = ? WHERE run_id = ?`, quotedTableName)
	}

	if _, err := rl.db.Exec(updateQuery, args...); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// RecordCorruptions stores the corruption entries of an audit run in one transaction.
func (rl *RunLedgerImpl) RecordCorruptions(runID int64, ct schema.CollectionType, project string, detectedAt time.Time, entries []schema.CorruptionEntry) error {
	if rl.disabled() || len(entries) == 0 {
		return nil
	}

	quotedTableName := quoteTableName(corruptionsTable, rl.backend)
	var query string
	switch rl.backend {
	case schema.PostgreSQLBackend:
		query = fmt.Sprintf(`INSERT INTO %s (run_id, collection_type, project, item_id, item_name, reasons, detected_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`, quotedTableName)
	default: // SQLite and MySQL
		query = fmt.Sprintf(`INSERT INTO %s (run_id, collection_type, project, item_id, item_name, reasons, detected_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, quotedTableName)
	}

	tx, err := rl.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare corruption insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	detected := formatTime(detectedAt, rl.backend)
	for _, entry := range entries {
		if _, err := stmt.Exec(runID, string(ct), project, entry.ID, entry.Name, strings.Join(entry.Reasons, "; "), detected); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert corruption for item %d: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit corruptions: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (rl *RunLedgerImpl) Close() error {
	if rl.db != nil {
		return rl.db.Close()
	}
	return nil
}

// GetStatus returns status information about the run ledger.
func (rl *RunLedgerImpl) GetStatus() (schema.LedgerStatus, error) {
	status := schema.LedgerStatus{
		Backend:    string(rl.backend),
		Connected:  rl.db != nil,
		TableSizes: make(map[string]int64),
	}

	if rl.disabled() {
		return status, nil
	}

	quotedRuns := quoteTableName(runsTable, rl.backend)
	row := rl.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quotedRuns))
	if err := row.Scan(&status.TotalRuns); err != nil {
		return status, fmt.Errorf("failed to get total runs: %w", err)
	}

	if status.TotalRuns > 0 {
		last := timeScanner{backend: rl.backend}
		row = rl.db.QueryRow(fmt.Sprintf("SELECT run_id, start_time FROM %s ORDER BY run_id DESC LIMIT 1", quotedRuns))
		if err := row.Scan(&status.LastRunID, last.dest()); err != nil {
			return status, fmt.Errorf("failed to get last run info: %w", err)
		}
		lastTime, err := last.value()
		if err != nil {
			return status, err
		}
		if lastTime != nil {
			status.LastRunTime = *lastTime
		}

		oldest := timeScanner{backend: rl.backend}
		row = rl.db.QueryRow(fmt.Sprintf("SELECT start_time FROM %s ORDER BY run_id ASC LIMIT 1", quotedRuns))
		if err := row.Scan(oldest.dest()); err != nil {
			return status, fmt.Errorf("failed to get oldest run time: %w", err)
		}
		oldestTime, err := oldest.value()
		if err != nil {
			return status, err
		}
		if oldestTime != nil {
			status.OldestRunTime = *oldestTime
		}
	}

	for _, table := range []string{runsTable, corruptionsTable} {
		row = rl.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteTableName(table, rl.backend)))
		var count int64
		if err := row.Scan(&count); err != nil {
			return status, fmt.Errorf("failed to get count for table %s: %w", table, err)
		}
		status.TableSizes[table] = count
	}
	status.TotalCorruptions = int(status.TableSizes[corruptionsTable])

	return status, nil
}

// GetAllRuns retrieves all runs from the ledger.
func (rl *RunLedgerImpl) GetAllRuns() ([]schema.RunRecord, error) {
	if rl.disabled() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT run_id, collection_type, project, run_kind, start_time, end_time, run_duration_ms,
		state, items_listed, items_enriched, error_message FROM %s ORDER BY run_id`, quoteTableName(runsTable, rl.backend))
	rows, err := rl.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.RunRecord
	for rows.Next() {
		var record schema.RunRecord
		start := timeScanner{backend: rl.backend}
		end := timeScanner{backend: rl.backend}
		if err := rows.Scan(&record.RunID, &record.CollectionType, &record.Project, &record.Kind,
			start.dest(), end.dest(), &record.DurationMs, &record.State,
			&record.ItemsListed, &record.ItemsEnriched, &record.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		startTime, err := start.value()
		if err != nil {
			return nil, err
		}
		if startTime != nil {
			record.StartTime = *startTime
		}
		if record.EndTime, err = end.value(); err != nil {
			return nil, err
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return results, nil
}

// GetAllCorruptions retrieves all corruption entries from the ledger.
func (rl *RunLedgerImpl) GetAllCorruptions() ([]schema.CorruptionRecord, error) {
	if rl.disabled() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT run_id, collection_type, project, item_id, item_name, reasons, detected_at
		FROM %s ORDER BY run_id, item_id`, quoteTableName(corruptionsTable, rl.backend))
	rows, err := rl.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query corruptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.CorruptionRecord
	for rows.Next() {
		var record schema.CorruptionRecord
		var name sql.NullString
		detected := timeScanner{backend: rl.backend}
		if err := rows.Scan(&record.RunID, &record.CollectionType, &record.Project, &record.ItemID,
			&name, &record.Reasons, detected.dest()); err != nil {
			return nil, fmt.Errorf("failed to scan corruption: %w", err)
		}
		record.ItemName = name.String
		detectedAt, err := detected.value()
		if err != nil {
			return nil, err
		}
		if detectedAt != nil {
			record.DetectedAt = *detectedAt
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corruptions: %w", err)
	}
	return results, nil
}

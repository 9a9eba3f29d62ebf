package iocache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// snapshotTable is the name of the table for snapshot storage.
const snapshotTable = "feedmirror_snapshots"

// SQLSnapshotStore keeps one snapshot blob per collection and project in a SQL table.
// A nil db makes every operation a no-op (NoneBackend).
type SQLSnapshotStore struct {
	db        *sql.DB
	tableName string
	backend   schema.DatabaseBackend
	connStr   string
	now       func() time.Time
}

var _ contract.SnapshotStore = &SQLSnapshotStore{} // Compile-time check

// NewSnapshotStore initializes and returns a new SnapshotStore based on the backend type.
func NewSnapshotStore(backend schema.DatabaseBackend, connStr string) (contract.SnapshotStore, error) {
	switch backend {
	case schema.RedisBackend:
		return NewRedisSnapshotStore(connStr)
	case schema.NoneBackend:
		return &SQLSnapshotStore{tableName: snapshotTable, backend: backend, now: time.Now}, nil
	default:
		return NewSQLSnapshotStore(snapshotTable, backend, connStr)
	}
}

// NewSQLSnapshotStore opens a SQL backend and creates the snapshot table.
func NewSQLSnapshotStore(tableName string, backend schema.DatabaseBackend, connStr string) (*SQLSnapshotStore, error) {
	// Validate table name to prevent SQL injection
	if err := validateTableName(tableName); err != nil {
		return nil, err
	}

	db, err := openSQL(backend, connStr, GetStoreDBFilePath())
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(getCreateSnapshotTableQuery(tableName, backend)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	return &SQLSnapshotStore{
		db:        db,
		tableName: tableName,
		backend:   backend,
		connStr:   connStr,
		now:       time.Now,
	}, nil
}

// getCreateSnapshotTableQuery returns the CREATE TABLE query for the given backend.
func getCreateSnapshotTableQuery(tableName string, backend schema.DatabaseBackend) string {
	quotedTableName := quoteTableName(tableName, backend)
	switch backend {
	case schema.MySQLBackend:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection_type VARCHAR(64) NOT NULL,
				project VARCHAR(255) NOT NULL,
				snapshot_value LONGBLOB NOT NULL,
				updated_at BIGINT NOT NULL,
				PRIMARY KEY (collection_type, project)
			);
		`, quotedTableName)

	case schema.PostgreSQLBackend:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection_type TEXT NOT NULL,
				project TEXT NOT NULL,
				snapshot_value BYTEA NOT NULL,
				updated_at BIGINT NOT NULL,
				PRIMARY KEY (collection_type, project)
			);
		`, quotedTableName)

	default: // SQLite
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection_type TEXT NOT NULL,
				project TEXT NOT NULL,
				snapshot_value BLOB NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (collection_type, project)
			);
		`, quotedTableName)
	}
}

func (ss *SQLSnapshotStore) disabled() bool {
	return ss.backend == schema.NoneBackend || ss.db == nil
}

// Read retrieves the snapshot blob for a collection and project.
func (ss *SQLSnapshotStore) Read(ctx context.Context, ct schema.CollectionType, project string) ([]byte, error) {
	if ss.disabled() {
		return nil, contract.ErrSnapshotNotFound
	}

	query := fmt.Sprintf(`SELECT snapshot_value FROM %s WHERE collection_type = %s AND project = %s`,
		quoteTableName(ss.tableName, ss.backend), placeholder(ss.backend, 1), placeholder(ss.backend, 2))

	var value []byte
	if err := ss.db.QueryRowContext(ctx, query, string(ct), project).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", contract.ErrSnapshotNotFound, ct, project)
		}
		return nil, fmt.Errorf("failed to read snapshot %s/%s: %w", ct, project, err)
	}
	return value, nil
}

// Write inserts or replaces the snapshot blob for a collection and project.
func (ss *SQLSnapshotStore) Write(ctx context.Context, ct schema.CollectionType, project string, blob []byte) error {
	if ss.disabled() {
		return nil
	}
	if _, err := ss.db.ExecContext(ctx, ss.getUpsertQuery(), string(ct), project, blob, ss.now().Unix()); err != nil {
		return fmt.Errorf("failed to write snapshot %s/%s: %w", ct, project, err)
	}
	return nil
}

// Delete removes the snapshot for a collection and project.
func (ss *SQLSnapshotStore) Delete(ctx context.Context, ct schema.CollectionType, project string) error {
	if ss.disabled() {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection_type = %s AND project = %s`,
		quoteTableName(ss.tableName, ss.backend), placeholder(ss.backend, 1), placeholder(ss.backend, 2))
	if _, err := ss.db.ExecContext(ctx, query, string(ct), project); err != nil {
		return fmt.Errorf("failed to delete snapshot %s/%s: %w", ct, project, err)
	}
	return nil
}

// getUpsertQuery returns the UPSERT query for the backend.
func (ss *SQLSnapshotStore) getUpsertQuery() string {
	quotedTableName := quoteTableName(ss.tableName, ss.backend)
	switch ss.backend {
	case schema.MySQLBackend:
		return fmt.Sprintf(`INSERT INTO %s (collection_type, project, snapshot_value, updated_at) VALUES (?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE snapshot_value = new.snapshot_value, updated_at = new.updated_at`, quotedTableName)

	case schema.PostgreSQLBackend:
		return fmt.Sprintf(`INSERT INTO %s (collection_type, project, snapshot_value, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection_type, project) DO UPDATE SET snapshot_value = EXCLUDED.snapshot_value, updated_at = EXCLUDED.updated_at`, quotedTableName)

	default: // SQLite
		return fmt.Sprintf(`INSERT OR REPLACE INTO %s (collection_type, project, snapshot_value, updated_at) VALUES (?, ?, ?, ?)`, quotedTableName)
	}
}

// Close closes the underlying DB connection.
func (ss *SQLSnapshotStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}

// GetStatus returns status information about the snapshot store.
func (ss *SQLSnapshotStore) GetStatus() (schema.StoreStatus, error) {
	status := schema.StoreStatus{
		Backend:   string(ss.backend),
		Connected: ss.db != nil,
	}

	if ss.disabled() {
		return status, nil
	}

	quotedTableName := quoteTableName(ss.tableName, ss.backend)

	row := ss.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quotedTableName))
	if err := row.Scan(&status.TotalEntries); err != nil {
		return status, fmt.Errorf("failed to get total entries: %w", err)
	}

	if status.TotalEntries == 0 {
		return status, nil
	}

	var lastTs, oldestTs int64
	row = ss.db.QueryRow(fmt.Sprintf("SELECT MAX(updated_at), MIN(updated_at) FROM %s", quotedTableName))
	if err := row.Scan(&lastTs, &oldestTs); err != nil {
		return status, fmt.Errorf("failed to get entry times: %w", err)
	}
	status.LastEntryTime = time.Unix(lastTs, 0)
	status.OldestEntryTime = time.Unix(oldestTs, 0)

	status.TableSizeBytes = ss.estimateTableSize(status.TotalEntries)
	return status, nil
}

// estimateTableSize asks the backend for the table size, falling back to a
// rough per-row estimate when the backend cannot tell.
func (ss *SQLSnapshotStore) estimateTableSize(entries int) int64 {
	fallback := int64(entries) * 1000
	var size int64

	switch ss.backend {
	case schema.SQLiteBackend:
		row := ss.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&size); err != nil {
			return 0
		}
		return size

	case schema.MySQLBackend:
		cfg, err := mysql.ParseDSN(ss.connStr)
		if err != nil || cfg.DBName == "" {
			return fallback
		}
		row := ss.db.QueryRow("SELECT data_length + index_length FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", cfg.DBName, ss.tableName)
		if err := row.Scan(&size); err != nil {
			return fallback
		}
		return size

	case schema.PostgreSQLBackend:
		row := ss.db.QueryRow("SELECT pg_total_relation_size($1)", ss.tableName)
		if err := row.Scan(&size); err != nil {
			return fallback
		}
		return size

	default:
		return fallback
	}
}

package iocache

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, path, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
	return n == 1
}

func TestMigrateLedger_NoneBackend(t *testing.T) {
	err := MigrateLedger(schema.NoneBackend, "", -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations are not supported for NoneBackend")
}

func TestMigrateLedger_RedisBackend(t *testing.T) {
	assert.Error(t, MigrateLedger(schema.RedisBackend, "redis://localhost:6379/0", -1))
}

func TestMigrateLedger_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	var out bytes.Buffer

	require.NoError(t, migrateLedger(&out, schema.SQLiteBackend, path, -1))
	assert.Contains(t, out.String(), "to version 2")
	assert.True(t, tableExists(t, path, runsTable))
	assert.True(t, tableExists(t, path, corruptionsTable))

	out.Reset()
	require.NoError(t, migrateLedger(&out, schema.SQLiteBackend, path, -1))
	assert.Contains(t, out.String(), "already at the latest version")

	out.Reset()
	require.NoError(t, migrateLedger(&out, schema.SQLiteBackend, path, 1))
	assert.True(t, tableExists(t, path, runsTable))
	assert.False(t, tableExists(t, path, corruptionsTable))

	out.Reset()
	require.NoError(t, migrateLedger(&out, schema.SQLiteBackend, path, 0))
	assert.Contains(t, out.String(), "rolled back")
	assert.False(t, tableExists(t, path, runsTable))
}

func TestMigrateLedger_AfterLedgerCreatedTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	ledger, err := NewRunLedger(schema.SQLiteBackend, path)
	require.NoError(t, err)
	_, err = ledger.BeginRun(schema.RunsCollection, "p", schema.RefreshRun, time.Now())
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	var out bytes.Buffer
	require.NoError(t, migrateLedger(&out, schema.SQLiteBackend, path, -1))

	reopened, err := NewRunLedger(schema.SQLiteBackend, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	runs, err := reopened.GetAllRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 1, "migrating must not drop existing history")
}

func TestUpMigrations(t *testing.T) {
	for _, backend := range []schema.DatabaseBackend{schema.SQLiteBackend, schema.MySQLBackend, schema.PostgreSQLBackend} {
		t.Run(string(backend), func(t *testing.T) {
			stmts, err := upMigrations(backend)
			require.NoError(t, err)
			require.Len(t, stmts, 2)
			assert.Contains(t, stmts[0], runsTable)
			assert.Contains(t, stmts[1], corruptionsTable)
		})
	}

	_, err := upMigrations(schema.NoneBackend)
	assert.Error(t, err)
}

package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		dsn         string
		expectedErr string
	}{
		{"empty_path", "", "empty database path"},
		{"whitespace_path", "   ", "empty database path"},
		{"empty_sqlite_url", "sqlite://", "empty database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(ctx, tt.dsn)
			assert.Nil(t, store)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestOpen_SQLiteURL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deep", "organizer.db")

	store, err := Open(context.Background(), "sqlite://"+dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, DialectSQLite, store.Dialect())
	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestOpen_FilePermissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestOpen_ExistingFileKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "existing.db")

	store1, err := Open(ctx, dbPath)
	require.NoError(t, err)
	scan, err := NewScanStore(store1).CreateScan(ctx, "u1", "root")
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer store2.Close()

	got, err := NewScanStore(store2).GetScan(ctx, scan.ID)
	assert.NoError(t, err)
	assert.Equal(t, ScanPending, got.Status)
}

func TestMigration_UserVersion(t *testing.T) {
	store := openTestStore(t)

	var ver int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&ver))
	assert.Equal(t, SchemaVersion, ver)

	for _, table := range []string{"drive_scans", "scan_items", "scan_failures", "proposals", "undo_logs", "change_log_entries", "preferences"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestPragmas_Configuration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var journalMode string
	err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode)
	assert.NoError(t, err)
	assert.Equal(t, "wal", journalMode)
}

func TestClose_NilStore(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
	assert.NoError(t, (&Store{}).Close())
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x=? AND y=? LIMIT ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y=$2 LIMIT $3", rebind(DialectPostgres, q))
	assert.Equal(t, "SELECT 1", rebind(DialectPostgres, "SELECT 1"))
}

func TestNewStores_NilBase(t *testing.T) {
	assert.Nil(t, NewScanStore(nil))
	assert.Nil(t, NewProposalStore(nil))
	assert.Nil(t, NewUndoStore(nil))
	assert.Nil(t, NewPreferencesStore(nil))

	var scans *ScanStore
	_, err := scans.GetScan(context.Background(), "x")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scan store not initialized")
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyReverted  = errors.New("undo log already reverted")
	ErrRevertInProgress = errors.New("undo log revert in progress")
)

// Dialect selects SQL differences between backends
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps the database used for scans, proposals and undo logs
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens (and creates/migrates) the database named by dsn.
// postgres:// and postgresql:// DSNs use PostgreSQL; anything else is a
// SQLite file path, optionally prefixed with sqlite://.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgres(ctx, dsn)
	}
	return openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
}

func openSQLite(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	// Ensure file exists with strict perms
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create database file: %w", err)
		}
		f.Close()
	}
	// busy_timeout and foreign_keys are per connection, so they go in the DSN too
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys=ON;")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")

	s := &Store{db: db, dialect: DialectSQLite}
	if err := s.migrateSQLite(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, dialect: DialectPostgres}
	if err := s.migratePostgres(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrations holds the DDL of each schema version, oldest first.
// The statements are valid on both SQLite and PostgreSQL.
var migrations = [][]string{
	// v1: scans and their items
	{`
CREATE TABLE IF NOT EXISTS drive_scans (
  id          TEXT PRIMARY KEY,
  user_id     TEXT NOT NULL,
  root_id     TEXT NOT NULL,
  status      TEXT NOT NULL DEFAULT 'pending',
  message     TEXT NOT NULL DEFAULT '',
  truncated   INTEGER NOT NULL DEFAULT 0,
  item_count  INTEGER NOT NULL DEFAULT 0,
  created_at  BIGINT NOT NULL,
  updated_at  BIGINT NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_drive_scans_user ON drive_scans(user_id, created_at)`, `
CREATE TABLE IF NOT EXISTS scan_items (
  scan_id  TEXT NOT NULL,
  seq      INTEGER NOT NULL,
  item_id  TEXT NOT NULL,
  payload  TEXT NOT NULL,
  PRIMARY KEY (scan_id, seq),
  FOREIGN KEY (scan_id) REFERENCES drive_scans(id) ON DELETE CASCADE
)`, `
CREATE TABLE IF NOT EXISTS scan_failures (
  scan_id    TEXT NOT NULL,
  seq        INTEGER NOT NULL,
  folder_id  TEXT NOT NULL,
  depth      INTEGER NOT NULL,
  status     INTEGER NOT NULL DEFAULT 0,
  reason     TEXT NOT NULL,
  PRIMARY KEY (scan_id, seq),
  FOREIGN KEY (scan_id) REFERENCES drive_scans(id) ON DELETE CASCADE
)`},
	// v2: proposals
	{`
CREATE TABLE IF NOT EXISTS proposals (
  id          TEXT PRIMARY KEY,
  user_id     TEXT NOT NULL,
  scan_id     TEXT NOT NULL,
  status      TEXT NOT NULL DEFAULT 'draft',
  payload     TEXT NOT NULL,
  created_at  BIGINT NOT NULL,
  updated_at  BIGINT NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_proposals_user ON proposals(user_id, created_at)`},
	// v3: undo logs and change log entries
	{`
CREATE TABLE IF NOT EXISTS undo_logs (
  id           TEXT PRIMARY KEY,
  proposal_id  TEXT NOT NULL,
  user_id      TEXT NOT NULL,
  status       TEXT NOT NULL DEFAULT 'applied',
  created_at   BIGINT NOT NULL,
  reverted_at  BIGINT
)`, `
CREATE INDEX IF NOT EXISTS idx_undo_logs_proposal ON undo_logs(proposal_id, created_at)`, `
CREATE TABLE IF NOT EXISTS change_log_entries (
  undo_log_id          TEXT NOT NULL,
  seq                  INTEGER NOT NULL,
  type                 TEXT NOT NULL,
  item_id              TEXT NOT NULL,
  from_parent_id       TEXT NOT NULL DEFAULT '',
  to_parent_id         TEXT NOT NULL DEFAULT '',
  folder_name          TEXT NOT NULL DEFAULT '',
  previous_parent_ids  TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (undo_log_id, seq),
  FOREIGN KEY (undo_log_id) REFERENCES undo_logs(id) ON DELETE CASCADE
)`},
	// v4: preferences
	{`
CREATE TABLE IF NOT EXISTS preferences (
  user_id           TEXT PRIMARY KEY,
  ignore_mime       TEXT NOT NULL DEFAULT '[]',
  ignore_large      INTEGER NOT NULL DEFAULT 0,
  max_file_size_mb  INTEGER NOT NULL DEFAULT 100,
  updated_at        BIGINT NOT NULL
)`},
}

// SchemaVersion is the schema version a freshly migrated database reports
var SchemaVersion = len(migrations)

func (s *Store) migrateSQLite(ctx context.Context) error {
	// user_version based migrations
	var ver int
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)

	for ver < len(migrations) {
		next := ver + 1
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range migrations[ver] {
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				break
			}
		}
		if err == nil {
			_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", next))
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate v%d: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		ver = next
	}
	return nil
}

func (s *Store) migratePostgres(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i, stmts := range migrations {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate v%d: %w", i+1, err)
			}
		}
	}
	return tx.Commit()
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for use by domain stores
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// conn is the shared handle of the domain stores
type conn struct {
	db      *sql.DB
	dialect Dialect
}

func newConn(store *Store) conn {
	return conn{db: store.DB(), dialect: store.Dialect()}
}

func (c conn) ready() bool {
	return c.db != nil
}

func (c conn) exec(ctx context.Context, q sqlExecer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, rebind(c.dialect, query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, rebind(c.dialect, query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, rebind(c.dialect, query), args...)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

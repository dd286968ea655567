// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// dirPermissions is applied when the database directory has to be created.
const dirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore backs the engine with a single database file. The bot and the
// console open the same file from separate processes, so the connection is
// configured for concurrent access (WAL journal, busy timeout) rather than
// exclusive ownership.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database file named by the
// DSN option and applies the schema migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		slog.Error("SQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _busy_timeout keeps writes from the second process queued instead of
	// failing with SQLITE_BUSY while the first holds the write lock.
	connStr := dsn
	if !strings.Contains(connStr, "?") {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		slog.Error("SQLiteStore: failed to open database", "error", err, "path", dsn)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore: ping failed", "error", err, "path", dsn)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("SQLiteStore: opened", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("SQLiteStore.Close: failed", "error", err)
		return err
	}
	slog.Debug("SQLiteStore.Close: database closed")
	return nil
}

// Package sqlite is the embedded SQL backend. One database file holds the
// envelope records, the index, receipts and subscribers.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// DB wraps the shared connection used by every sqlite store.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL keeps that connection from blocking on readers.
	db.SetMaxOpenConns(1)

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS envelopes (
			id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS memory_index (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '[]',
			time_ref TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			salience REAL NOT NULL DEFAULT 0,
			acl TEXT NOT NULL DEFAULT '[]',
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS deletion_receipts (
			mem_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			deleted_at TEXT NOT NULL,
			proof TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			agent_id TEXT PRIMARY KEY,
			callback TEXT,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// NewSQLiteStores opens path and returns every store backed by it.
func NewSQLiteStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Backend:     store.BackendSQLite,
		Envelopes:   &EnvelopeStore{db: db.db},
		Index:       &IndexStore{db: db.db},
		Receipts:    &ReceiptStore{db: db.db},
		Subscribers: &SubscriberStore{db: db.db},
		Closer:      db,
	}, nil
}

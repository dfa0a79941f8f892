// Package sqlite provides a SQLite-backed implementation of the
// storage.GroupStore and storage.LocationStore interfaces.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/flotilla-app/flotilla/internal/events"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// Ensure Store implements both store interfaces.
var (
	_ storage.GroupStore    = (*Store)(nil)
	_ storage.LocationStore = (*Store)(nil)
)

// Store implements the group and location stores on a single SQLite
// database. Every successful write publishes a change event on the bus so
// live watches can pick it up.
type Store struct {
	db  *sql.DB
	bus *events.Bus
	log *slog.Logger
}

// New creates a Store at the given database path. It creates parent
// directories and runs migrations automatically.
func New(dbPath string, bus *events.Bus, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single pooled connection serializes writers, which keeps SQLITE_BUSY
	// out of the picture and makes member mutations strictly ordered.
	db.SetMaxOpenConns(1)

	// WAL lets watch re-reads proceed while a write is in flight.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, bus: bus, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// transient wraps a backend failure so callers can match
// storage.ErrUnavailable while keeping the driver error in the chain.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w (%w)", op, storage.ErrUnavailable, err)
}

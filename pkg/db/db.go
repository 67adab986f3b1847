// Package db opens the SQLite flight log and keeps its schema current.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the SQL connection.
type DB struct {
	*sql.DB
}

// Init opens (or creates) the database at path and migrates it.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := openSQL("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	d := &DB{db}
	if err := d.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// openSQL is swapped in tests to observe the handle.
var openSQL = sql.Open

func (d *DB) setup() error {
	if err := d.Ping(); err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := d.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := d.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	d.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// PruneFlights deletes flights (and their events) that started before olderThan ago.
func (d *DB) PruneFlights(olderThan time.Duration) (int64, error) {
	deadline := time.Now().Add(-olderThan).UTC()
	if _, err := d.Exec(`DELETE FROM events WHERE flight_id IN (SELECT id FROM flights WHERE started_at < ?)`, deadline); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	res, err := d.Exec(`DELETE FROM flights WHERE started_at < ?`, deadline)
	if err != nil {
		return 0, fmt.Errorf("failed to prune flights: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS flights (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			provider TEXT,
			version TEXT,
			offset_deg REAL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flight_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_flight_ts ON events(flight_id, ts);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}

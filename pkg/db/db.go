package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// sqliteTime formats t like SQLite's CURRENT_TIMESTAMP (YYYY-MM-DD HH:MM:SS, UTC).
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// PruneCache removes cache entries older than the specified duration.
func (d *DB) PruneCache(olderThan time.Duration) (int64, error) {
	res, err := d.Exec("DELETE FROM cache WHERE created_at < ?", sqliteTime(time.Now().Add(-olderThan)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneAnalysisRuns keeps only the newest keep analysis records.
func (d *DB) PruneAnalysisRuns(keep int) (int64, error) {
	res, err := d.Exec(`DELETE FROM analysis_runs WHERE id NOT IN (
		SELECT id FROM analysis_runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			tier TEXT,
			request TEXT,
			total_cells INTEGER DEFAULT 0,
			visible_cells INTEGER DEFAULT 0,
			average_visibility REAL DEFAULT 0,
			elapsed_ms INTEGER DEFAULT 0,
			error_kind TEXT,
			error_message TEXT,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS towers (
			id TEXT PRIMARY KEY,
			name TEXT,
			lat REAL,
			lon REAL,
			carrier TEXT,
			technology TEXT,
			height REAL,
			elevation REAL,
			state TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_towers_latlon ON towers(lat, lon);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Migration: Add tier column to runs recorded before tiers existed
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('analysis_runs') WHERE name='tier'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE analysis_runs ADD COLUMN tier TEXT"); err != nil {
			return fmt.Errorf("failed to add tier column: %w", err)
		}
	}

	return nil
}

package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"flightassure/pkg/db"
)

func TestDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	for _, table := range []string{"persistent_state", "cache", "analysis_runs", "towers"} {
		var n int
		if err := d.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil || n != 1 {
			t.Errorf("table %s missing (err=%v)", table, err)
		}
	}

	// Re-running migrations on an existing database is a no-op
	d.Close()
	d2, err := db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	d2.Close()
}

func TestPruneCache(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES ('old', x'00', ?)", old); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("INSERT INTO cache (key, value) VALUES ('new', x'00')"); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(30 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
}

func TestPruneAnalysisRuns(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	for i, id := range []string{"a", "b", "c"} {
		ts := time.Now().Add(time.Duration(i) * time.Minute).UTC().Format("2006-01-02 15:04:05")
		if _, err := d.Exec("INSERT INTO analysis_runs (id, type, state, started_at) VALUES (?, 'station', 'completed', ?)", id, ts); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.PruneAnalysisRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned run, got %d", n)
	}
	var remaining int
	_ = d.QueryRow("SELECT count(*) FROM analysis_runs WHERE id = 'a'").Scan(&remaining)
	if remaining != 0 {
		t.Error("oldest run should have been pruned")
	}
}

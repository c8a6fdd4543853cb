package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flightassure/pkg/db"
	"flightassure/pkg/store"
	"flightassure/pkg/towers"
)

const towersStateKey = "rrl_site_csv_mtime"

// Options controls which maintenance tasks run.
type Options struct {
	// TowersDir is an ACMA RRL export directory; empty skips the import.
	TowersDir   string
	CacheMaxAge time.Duration
	KeepRuns    int
}

// Run executes all maintenance tasks: tower import and pruning.
// Failures are logged; startup is never blocked by maintenance.
func Run(ctx context.Context, s store.Store, d *db.DB, opts Options) error {
	slog.Info("Starting database maintenance...")

	if opts.TowersDir != "" {
		if err := importTowers(ctx, s, opts.TowersDir); err != nil {
			slog.Error("Tower import failed", "error", err)
		} else {
			slog.Info("Tower import check completed")
		}
	}

	if opts.CacheMaxAge > 0 {
		n, err := d.PruneCache(opts.CacheMaxAge)
		if err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else {
			slog.Info("Cache pruning completed", "removed", n)
		}
	}

	if opts.KeepRuns > 0 {
		n, err := d.PruneAnalysisRuns(opts.KeepRuns)
		if err != nil {
			slog.Error("Analysis history pruning failed", "error", err)
		} else if n > 0 {
			slog.Info("Analysis history pruned", "removed", n)
		}
	}

	return nil
}

// importTowers reloads the towers table when site.csv changed since the last import.
func importTowers(ctx context.Context, s store.Store, dir string) error {
	info, err := os.Stat(filepath.Join(dir, towers.SiteFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat site file: %w", err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339)
	if stored, found := s.GetState(ctx, towersStateKey); found && stored == fileMTime {
		return nil // Up to date
	}

	slog.Info("Importing mobile towers from RRL export...", "dir", dir)
	list, err := towers.Extract(dir)
	if err != nil {
		return err
	}

	records := make([]store.TowerRecord, len(list))
	for i := range list {
		records[i] = list[i].Record()
	}
	if err := s.ReplaceTowers(ctx, records); err != nil {
		return fmt.Errorf("failed to store towers: %w", err)
	}
	slog.Info("Imported mobile towers", "count", len(records))

	if err := s.SetState(ctx, towersStateKey, fileMTime); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

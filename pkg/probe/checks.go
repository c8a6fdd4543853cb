package probe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flightassure/pkg/terrain"
)

// Terrain fails when no terrain source is configured, or when the oracle
// answers the reference point with its hardcoded default. It is not
// critical: analyses report the missing terrain themselves.
func Terrain(r terrain.Readiness, e terrain.Elevator, lon, lat float64) Probe {
	return Probe{
		Name:     "Terrain",
		Timeout:  15 * time.Second,
		Check: func(ctx context.Context) error {
			if err := r.Ready(ctx); err != nil {
				return err
			}
			if s := e.ElevationAt(ctx, lon, lat); s.LowConfidence() {
				return fmt.Errorf("no terrain data at reference point %.4f,%.4f", lat, lon)
			}
			return nil
		},
	}
}

// Database pings db.
func Database(db *sql.DB) Probe {
	return Probe{
		Name:     "Database",
		Critical: true,
		Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}
}

// WritableDir checks that dir exists or can be created, and accepts files.
func WritableDir(name, dir string) Probe {
	return Probe{
		Name: name,
		Check: func(_ context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return err
			}
			path := f.Name()
			f.Close()
			return os.Remove(filepath.Clean(path))
		},
	}
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flightassure/pkg/db"

	"github.com/klauspost/compress/zstd"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	CacheStore
	StateStore
	AnalysisStore
	TowerStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Cache ---

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompress(data []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(data, nil)
}

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Debug("Cache read failed", "key", key, "error", err)
		return nil, false
	}

	// Transparent Decompression
	if bytes.HasPrefix(val, zstdMagic) {
		out, err := decompress(val)
		if err != nil {
			slog.Warn("Corrupt cache entry", "key", key, "error", err)
			return nil, false
		}
		return out, true
	}
	return val, true
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, compress(val), time.Now().UTC().Format("2006-01-02 15:04:05"))
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Analysis runs ---

func (s *SQLiteStore) SaveAnalysisRun(ctx context.Context, r *AnalysisRecord) error {
	if r.ID == "" {
		return fmt.Errorf("analysis record without id")
	}
	var finished any
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UTC()
	}
	query := `INSERT OR REPLACE INTO analysis_runs
		(id, type, state, tier, request, total_cells, visible_cells, average_visibility, elapsed_ms, error_kind, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Type, r.State, r.Tier, r.Request,
		r.TotalCells, r.VisibleCells, r.AverageVisibility, r.ElapsedMS,
		r.ErrorKind, r.ErrorMessage, r.StartedAt.UTC(), finished)
	return err
}

const analysisColumns = `id, type, state, tier, request, total_cells, visible_cells, average_visibility, elapsed_ms, error_kind, error_message, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysisRun(row rowScanner) (*AnalysisRecord, error) {
	var r AnalysisRecord
	var tier, request, errKind, errMsg sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.Type, &r.State, &tier, &request,
		&r.TotalCells, &r.VisibleCells, &r.AverageVisibility, &r.ElapsedMS,
		&errKind, &errMsg, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.Tier = tier.String
	r.Request = request.String
	r.ErrorKind = errKind.String
	r.ErrorMessage = errMsg.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) GetAnalysisRun(ctx context.Context, id string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+analysisColumns+" FROM analysis_runs WHERE id = ?", id)
	r, err := scanAnalysisRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return r, err
}

func (s *SQLiteStore) ListAnalysisRuns(ctx context.Context, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+analysisColumns+" FROM analysis_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnalysisRecord
	for rows.Next() {
		r, err := scanAnalysisRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Towers ---

// ReplaceTowers swaps the whole tower table in one transaction.
func (s *SQLiteStore) ReplaceTowers(ctx context.Context, towers []TowerRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM towers"); err != nil {
		return fmt.Errorf("failed to clear towers: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO towers
		(id, name, lat, lon, carrier, technology, height, elevation, state) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range towers {
		t := &towers[i]
		var elev any
		if t.Elevation != nil {
			elev = *t.Elevation
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Name, t.Lat, t.Lon, t.Carrier, t.Technology, t.Height, elev, t.State); err != nil {
			return fmt.Errorf("failed to insert tower %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) TowersInBounds(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]TowerRecord, error) {
	query := `SELECT id, name, lat, lon, carrier, technology, height, elevation, state FROM towers
	          WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`
	rows, err := s.db.QueryContext(ctx, query, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TowerRecord
	for rows.Next() {
		var t TowerRecord
		var name, carrier, tech, state sql.NullString
		var height, elev sql.NullFloat64
		if err := rows.Scan(&t.ID, &name, &t.Lat, &t.Lon, &carrier, &tech, &height, &elev, &state); err != nil {
			return nil, err
		}
		t.Name, t.Carrier, t.Technology, t.State = name.String, carrier.String, tech.String, state.String
		t.Height = height.Float64
		if elev.Valid {
			v := elev.Float64
			t.Elevation = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

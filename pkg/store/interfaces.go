package store

import (
	"context"
	"time"
)

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// AnalysisRecord is the persisted summary of one analysis run.
type AnalysisRecord struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	State             string     `json:"state"`
	Tier              string     `json:"tier,omitempty"`
	Request           string     `json:"request,omitempty"` // JSON encoded request
	TotalCells        int        `json:"total_cells"`
	VisibleCells      int        `json:"visible_cells"`
	AverageVisibility float64    `json:"average_visibility"`
	ElapsedMS         int64      `json:"elapsed_ms"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// AnalysisStore handles analysis run history.
type AnalysisStore interface {
	SaveAnalysisRun(ctx context.Context, r *AnalysisRecord) error
	GetAnalysisRun(ctx context.Context, id string) (*AnalysisRecord, error)
	ListAnalysisRuns(ctx context.Context, limit int) ([]*AnalysisRecord, error)
}

// TowerRecord is an imported mobile tower site.
type TowerRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Carrier    string   `json:"carrier"`
	Technology string   `json:"technology"`
	Height     float64  `json:"height"`
	Elevation  *float64 `json:"elevation,omitempty"`
	State      string   `json:"state,omitempty"`
}

// TowerStore handles mobile tower sites.
type TowerStore interface {
	ReplaceTowers(ctx context.Context, towers []TowerRecord) error
	TowersInBounds(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]TowerRecord, error)
}

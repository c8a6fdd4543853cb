// Package grid tiles an area of interest into fixed-size cells and resolves
// the terrain elevation at each cell center.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"flightassure/pkg/geo"
	"flightassure/pkg/terrain"
)

// DefaultMaxCells is the sanity ceiling on a single grid.
const DefaultMaxCells = 10000

var (
	ErrInvalidCellSize = errors.New("cell size must be a positive number of meters")
	ErrDegenerateArea  = errors.New("area of interest has zero extent")
	ErrTooManyCells    = errors.New("grid would exceed the cell limit")
)

// Cell is one grid tile. Visibility stays nil until an analysis sets it.
type Cell struct {
	ID                  string             `json:"id"`
	Row                 int                `json:"row"`
	Col                 int                `json:"col"`
	Polygon             orb.Polygon        `json:"-"`
	Center              geo.Point          `json:"center"`
	Elevation           float64            `json:"elevation"`
	ElevationConfidence terrain.Confidence `json:"-"`
	Visibility          *float64           `json:"visibility,omitempty"`
	VisibleStations     int                `json:"visibleStations"`
	FullyVisible        bool               `json:"fullyVisible"`
}

// SetVisibility stores v clamped to [0,100].
func (c *Cell) SetVisibility(v float64) {
	v = math.Max(0, math.Min(100, v))
	c.Visibility = &v
}

// Visible reports whether the cell has a positive visibility.
func (c *Cell) Visible() bool {
	return c.Visibility != nil && *c.Visibility > 0
}

// Position returns the cell center raised by height meters above terrain.
func (c *Cell) Position(height float64) terrain.Position3D {
	return terrain.Position3D{Lon: c.Center.Lon, Lat: c.Center.Lat, Elevation: c.Elevation + height}
}

// Area is an area of interest.
type Area interface {
	Bound() orb.Bound
}

// Circle is the square circumscribing a range around a point.
type Circle struct {
	Center geo.Point
	Range  float64
}

// Bound implements Area.
func (c Circle) Bound() orb.Bound {
	return geo.SquareBound(c.Center, c.Range)
}

// PathArea is the bounding box of a point set grown by Margin meters.
type PathArea struct {
	Points []geo.Point
	Margin float64
}

// Bound implements Area.
func (p PathArea) Bound() orb.Bound {
	return geo.PathBound(p.Points, p.Margin)
}

// Generator builds grids. It never clamps parameters; callers enforce limits.
type Generator struct {
	elev        terrain.Elevator
	maxCells    int
	concurrency int
}

// NewGenerator creates a generator. Non-positive limits take defaults.
func NewGenerator(e terrain.Elevator, maxCells, concurrency int) *Generator {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Generator{elev: e, maxCells: maxCells, concurrency: concurrency}
}

// maxSide caps a single dimension so rows*cols cannot overflow int.
const maxSide = math.MaxInt32

// Dimensions returns the rows and columns a grid over b would have. Each
// side saturates at math.MaxInt32.
func Dimensions(b orb.Bound, cellSize float64) (rows, cols int) {
	w, h := geo.BoundSizeMeters(b)
	return sideCount(h, cellSize), sideCount(w, cellSize)
}

func sideCount(length, cellSize float64) int {
	// Absorb float noise so an exact multiple does not gain a row.
	n := math.Ceil(length/cellSize - 1e-9)
	if !(n < maxSide) {
		return maxSide
	}
	return int(n)
}

// exceeds reports whether rows*cols > limit without multiplying.
func exceeds(rows, cols, limit int) bool {
	if rows == 0 || cols == 0 {
		return false
	}
	return rows > limit || cols > limit || rows > limit/cols
}

// Generate tiles the area row-major, north to south and west to east.
func (g *Generator) Generate(ctx context.Context, area Area, cellSize float64) ([]*Cell, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, ErrInvalidCellSize
	}

	b := area.Bound()
	w, h := geo.BoundSizeMeters(b)
	if !(w > 0) || !(h > 0) {
		return []*Cell{}, ErrDegenerateArea
	}

	rows, cols := Dimensions(b, cellSize)
	if exceeds(rows, cols, g.maxCells) {
		return nil, fmt.Errorf("%w: %d x %d = %.0f cells, limit %d (use a coarser resolution or smaller range)",
			ErrTooManyCells, rows, cols, float64(rows)*float64(cols), g.maxCells)
	}

	start := time.Now()
	dLon, dLat := geo.MetersToDegrees(b.Center()[1], cellSize, cellSize)
	cells := make([]*Cell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		north := b.Max[1] - float64(r)*dLat
		south := north - dLat
		for c := 0; c < cols; c++ {
			west := b.Min[0] + float64(c)*dLon
			east := west + dLon
			cells = append(cells, &Cell{
				ID:  fmt.Sprintf("r%d-c%d", r, c),
				Row: r,
				Col: c,
				Polygon: orb.Polygon{orb.Ring{
					{west, north}, {east, north}, {east, south}, {west, south}, {west, north},
				}},
				Center: geo.Point{Lat: (north + south) / 2, Lon: (west + east) / 2},
			})
		}
	}

	if err := g.resolveElevations(ctx, cells); err != nil {
		return nil, err
	}

	slog.Debug("Grid generated", "rows", rows, "cols", cols, "cell_size", cellSize, "elapsed", time.Since(start))
	return cells, nil
}

func (g *Generator) resolveElevations(ctx context.Context, cells []*Cell) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, cell := range cells {
		if ctx.Err() != nil {
			break
		}
		cell := cell
		eg.Go(func() error {
			s := g.elev.ElevationAt(egCtx, cell.Center.Lon, cell.Center.Lat)
			cell.Elevation = s.Meters
			cell.ElevationConfidence = s.Confidence
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

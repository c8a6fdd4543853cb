package terrain

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// ETOPO1 is grid-registered at one arc-minute: 10801 rows x 21601 cols of
// little-endian int16.
const etopo1PerDegree = 60

// GridSource reads elevations from a global raw int16 grid such as ETOPO1.
type GridSource struct {
	r         io.ReaderAt
	closer    io.Closer
	perDegree int
	rows      int
	cols      int
}

// OpenGrid opens the ETOPO1 binary file.
func OpenGrid(path string) (*GridSource, error) {
	return openGrid(path, etopo1PerDegree)
}

func openGrid(path string, perDegree int) (*GridSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	g := newGridSource(f, perDegree)
	if want := int64(g.rows) * int64(g.cols) * 2; info.Size() != want {
		f.Close()
		return nil, fmt.Errorf("invalid elevation grid size: expected %d, got %d", want, info.Size())
	}
	g.closer = f
	return g, nil
}

func newGridSource(r io.ReaderAt, perDegree int) *GridSource {
	return &GridSource{
		r:         r,
		perDegree: perDegree,
		rows:      180*perDegree + 1,
		cols:      360*perDegree + 1,
	}
}

// Close closes the file handle.
func (g *GridSource) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

// Elevation implements Source.
func (g *GridSource) Elevation(_ context.Context, lon, lat float64) (float64, bool, error) {
	v, err := g.At(lat, lon)
	if err != nil {
		return 0, false, err
	}
	return float64(v), true, nil
}

// At returns the raw grid value nearest to lat/lon.
func (g *GridSource) At(lat, lon float64) (int16, error) {
	if lat > 90 || lat < -90 || lon > 180 || lon < -180 || math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, fmt.Errorf("coordinates out of bounds: %f, %f", lat, lon)
	}

	row := g.clampRow(int(math.Round((90.0 - lat) * float64(g.perDegree))))
	col := int(math.Round((lon + 180.0) * float64(g.perDegree)))
	if col >= g.cols {
		col %= g.cols
	}

	var b [2]byte
	if _, err := g.r.ReadAt(b[:], g.offset(row, col)); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b[:])), nil
}

// LowestElevation returns the minimum elevation (meters, floored at sea
// level) within radiusKM of lat/lon.
func (g *GridSource) LowestElevation(lat, lon, radiusKM float64) (int16, error) {
	if radiusKM < 0 {
		return 0, fmt.Errorf("negative radius")
	}

	// One grid step of latitude in km.
	stepKM := 111.32 / float64(g.perDegree)
	radiusRows := int(math.Ceil(radiusKM / stepKM))

	// Longitude steps shrink toward the poles.
	cosLat := math.Cos(lat * math.Pi / 180.0)
	if math.Abs(cosLat) < 0.01 {
		cosLat = 0.01
	}
	radiusCols := int(math.Ceil(float64(radiusRows) / cosLat))

	centerRow := int(math.Round((90.0 - lat) * float64(g.perDegree)))
	centerCol := int(math.Round((lon + 180.0) * float64(g.perDegree)))

	minElev := int16(math.MaxInt16)
	startCol := centerCol - radiusCols
	width := 2*radiusCols + 1

	for r := centerRow - radiusRows; r <= centerRow+radiusRows; r++ {
		if err := g.scanRowSegment(g.clampRow(r), startCol, width, &minElev); err != nil {
			return 0, err
		}
	}

	if minElev == math.MaxInt16 {
		var err error
		if minElev, err = g.At(lat, lon); err != nil {
			return 0, err
		}
	}

	if minElev < 0 {
		return 0, nil
	}
	return minElev, nil
}

func (g *GridSource) clampRow(row int) int {
	if row < 0 {
		return 0
	}
	if row >= g.rows {
		return g.rows - 1
	}
	return row
}

func (g *GridSource) offset(row, col int) int64 {
	return (int64(row)*int64(g.cols) + int64(col)) * 2
}

// scanRowSegment scans part of a row, wrapping across the date line.
func (g *GridSource) scanRowSegment(row, startCol, width int, minElev *int16) error {
	if width > g.cols {
		width = g.cols
	}
	normStart := (startCol%g.cols + g.cols) % g.cols

	if normStart+width <= g.cols {
		return g.scanChunk(row, normStart, width, minElev)
	}

	firstLen := g.cols - normStart
	if err := g.scanChunk(row, normStart, firstLen, minElev); err != nil {
		return err
	}
	return g.scanChunk(row, 0, width-firstLen, minElev)
}

// scanChunk reads a contiguous run of samples with a single ReadAt.
func (g *GridSource) scanChunk(row, colStart, count int, minElev *int16) error {
	if count <= 0 {
		return nil
	}
	b := make([]byte, count*2)
	if _, err := g.r.ReadAt(b, g.offset(row, colStart)); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if v := int16(binary.LittleEndian.Uint16(b[i*2:])); v < *minElev {
			*minElev = v
		}
	}
	return nil
}

// Package export renders analysis results as GeoJSON and ESRI Shapefiles.
package export

import (
	"encoding/json"
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"flightassure/pkg/analysis"
	"flightassure/pkg/grid"
	"flightassure/pkg/terrain"
)

var ErrNothingToExport = errors.New("result has no cells")

// CellFeature converts a cell to a polygon feature. Cells without a
// visibility value are exported with visibility null.
func CellFeature(c *grid.Cell) *geojson.Feature {
	f := geojson.NewFeature(c.Polygon)
	f.ID = c.ID
	f.Properties = geojson.Properties{
		"id":              c.ID,
		"row":             c.Row,
		"col":             c.Col,
		"elevation":       c.Elevation,
		"visibleStations": c.VisibleStations,
		"fullyVisible":    c.FullyVisible,
		"lowConfidence":   c.ElevationConfidence == terrain.ConfidenceFallback,
	}
	if c.Visibility != nil {
		f.Properties["visibility"] = *c.Visibility
	} else {
		f.Properties["visibility"] = nil
	}
	return f
}

// FeatureCollection builds the cell layer of res. Run metadata is attached
// as foreign members.
func FeatureCollection(res *analysis.Result) (*geojson.FeatureCollection, error) {
	if res == nil || len(res.Cells) == 0 {
		return nil, ErrNothingToExport
	}
	fc := geojson.NewFeatureCollection()
	for _, c := range res.Cells {
		fc.Append(CellFeature(c))
	}
	fc.ExtraMembers = geojson.Properties{
		"analysisId":   res.ID,
		"analysisType": string(res.Type),
		"stats":        res.Stats,
	}
	if res.FlightPath != nil {
		fc.ExtraMembers["flightPathVisibility"] = res.FlightPath
	}
	return fc, nil
}

// GeoJSON marshals the cell layer of res.
func GeoJSON(res *analysis.Result) ([]byte, error) {
	fc, err := FeatureCollection(res)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fc)
}

// PathFeature converts a flight path to a LineString feature.
func PathFeature(path []orb.Point, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(orb.LineString(path))
	if props != nil {
		f.Properties = props
	}
	return f
}

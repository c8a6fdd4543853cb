package export

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/klauspost/compress/zip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"flightassure/pkg/grid"
	"flightassure/pkg/terrain"
)

// wgs84PRJ is written next to every shapefile so GIS tools pick up the CRS.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

// Attribute columns. DBF names are limited to 10 characters.
var cellFields = []shp.Field{
	shp.StringField("ID", 16),
	shp.FloatField("VIS", 6, 1),
	shp.FloatField("ELEV", 10, 1),
	shp.NumberField("STATIONS", 4),
	shp.NumberField("FULL", 1),
	shp.NumberField("LOWCONF", 1),
}

// WriteShapefile writes cells as a polygon shapefile at path (the .shp
// file; .shx, .dbf and .prj are written alongside). Cells without a
// visibility value get VIS = -1.
func WriteShapefile(path string, cells []*grid.Cell) error {
	if len(cells) == 0 {
		return ErrNothingToExport
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	defer w.Close()

	if err := w.SetFields(cellFields); err != nil {
		return fmt.Errorf("set fields: %w", err)
	}

	for _, c := range cells {
		if len(c.Polygon) == 0 {
			continue
		}
		poly := shp.Polygon(*shp.NewPolyLine(polygonParts(c.Polygon)))
		row := int(w.Write(&poly))

		vis := -1.0
		if c.Visibility != nil {
			vis = *c.Visibility
		}
		attrs := []interface{}{c.ID, vis, c.Elevation, c.VisibleStations, boolInt(c.FullyVisible), boolInt(c.ElevationConfidence == terrain.ConfidenceFallback)}
		for i, v := range attrs {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return fmt.Errorf("cell %s: %w", c.ID, err)
			}
		}
	}

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if err := os.WriteFile(prj, []byte(wgs84PRJ), 0o644); err != nil {
		return fmt.Errorf("write prj: %w", err)
	}
	return nil
}

// WriteShapefileZip writes cells as a zipped shapefile bundle named name.
func WriteShapefileZip(out io.Writer, name string, cells []*grid.Cell) error {
	dir, err := os.MkdirTemp("", "flightassure-shp-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := WriteShapefile(filepath.Join(dir, name+".shp"), cells); err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		if err := addZipFile(zw, filepath.Join(dir, name+ext), name+ext); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addZipFile(zw *zip.Writer, path, entry string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(entry)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// ReadShapefile converts a shapefile to a GeoJSON feature collection. Every
// DBF attribute becomes a string property with its padding removed.
func ReadShapefile(path string) (*geojson.FeatureCollection, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}

	fc := geojson.NewFeatureCollection()
	for shape.Next() {
		n, p := shape.Shape()

		var g orb.Geometry
		switch s := p.(type) {
		case *shp.Null:
			continue
		case *shp.PolyLine:
			g = convertPolyLine(s)
		case *shp.Polygon:
			g = convertPolygon(s)
		case *shp.Point:
			g = orb.Point{s.X, s.Y}
		default:
			slog.Debug("Skipping unsupported shape type", "type", fmt.Sprintf("%T", p))
			continue
		}

		f := geojson.NewFeature(g)
		for i, name := range names {
			f.Properties[name] = strings.TrimRight(shape.ReadAttribute(n, i), "\x00 ")
		}
		fc.Append(f)
	}
	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("read shapes: %w", err)
	}
	return fc, nil
}

// polygonParts converts orb rings to shapefile parts. Outer rings are
// clockwise and holes counter-clockwise in the shapefile format.
func polygonParts(p orb.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, 0, len(p))
	for i, ring := range p {
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}
		pts := make([]shp.Point, len(ring))
		for j, pt := range ring {
			pts[j] = shp.Point{X: pt[0], Y: pt[1]}
		}
		if ring.Orientation() != want {
			for a, b := 0, len(pts)-1; a < b; a, b = a+1, b-1 {
				pts[a], pts[b] = pts[b], pts[a]
			}
		}
		parts = append(parts, pts)
	}
	return parts
}

func partRange(parts []int32, numPoints int32, i int) (start, end int32) {
	start = parts[i]
	end = numPoints
	if i < len(parts)-1 {
		end = parts[i+1]
	}
	return start, end
}

func convertPolyLine(s *shp.PolyLine) orb.MultiLineString {
	var ml orb.MultiLineString
	for i := 0; i < int(s.NumParts); i++ {
		start, end := partRange(s.Parts, s.NumPoints, i)
		var line orb.LineString
		for j := start; j < end; j++ {
			line = append(line, orb.Point{s.Points[j].X, s.Points[j].Y})
		}
		ml = append(ml, line)
	}
	return ml
}

// convertPolygon treats all parts as rings of a single polygon.
func convertPolygon(s *shp.Polygon) orb.Polygon {
	var poly orb.Polygon
	for i := 0; i < int(s.NumParts); i++ {
		start, end := partRange(s.Parts, s.NumPoints, i)
		var ring orb.Ring
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{s.Points[j].X, s.Points[j].Y})
		}
		poly = append(poly, ring)
	}
	return poly
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

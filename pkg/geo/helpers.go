package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// SquareBound returns the bounding box of a square centered on center with
// the given half side length in meters.
func SquareBound(center Point, halfSideMeters float64) orb.Bound {
	dLon, dLat := MetersToDegrees(center.Lat, halfSideMeters, halfSideMeters)
	return orb.Bound{
		Min: orb.Point{center.Lon - dLon, center.Lat - dLat},
		Max: orb.Point{center.Lon + dLon, center.Lat + dLat},
	}
}

// PathBound returns the bounding box of the points, grown by marginMeters on
// every side. An empty input yields a zero bound.
func PathBound(points []Point, marginMeters float64) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}

	b := orb.Bound{Min: points[0].Orb(), Max: points[0].Orb()}
	for _, p := range points[1:] {
		b = b.Extend(p.Orb())
	}

	if marginMeters <= 0 {
		return b
	}
	dLon, dLat := MetersToDegrees(b.Center()[1], marginMeters, marginMeters)
	return orb.Bound{
		Min: orb.Point{b.Min[0] - dLon, b.Min[1] - dLat},
		Max: orb.Point{b.Max[0] + dLon, b.Max[1] + dLat},
	}
}

// BoundSizeMeters returns the width and height of a bound in meters at its center latitude.
func BoundSizeMeters(b orb.Bound) (width, height float64) {
	return DegreesToMeters(b.Center()[1], b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
}

// PathLength returns the summed haversine length of a polyline in meters.
func PathLength(path []Point) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// NearestOnPath returns the point on the polyline closest to p and its
// distance in meters. Segments are projected in a local metric frame centered
// on p, which is accurate at operational scales.
func NearestOnPath(p Point, path []Point) (nearest Point, distMeters float64) {
	switch len(path) {
	case 0:
		return p, math.MaxFloat64
	case 1:
		return path[0], Distance(p, path[0])
	}

	distMeters = math.MaxFloat64
	for i := 0; i < len(path)-1; i++ {
		c := closestOnSegment(p, path[i], path[i+1])
		if d := Distance(p, c); d < distMeters {
			distMeters = d
			nearest = c
		}
	}
	return nearest, distMeters
}

// NearestVertices returns up to n path vertices ordered by distance from p.
func NearestVertices(p Point, path []Point, n int) []Point {
	idx := NearestIndices(p, path, n)
	if idx == nil {
		return nil
	}
	out := make([]Point, len(idx))
	for i, j := range idx {
		out[i] = path[j]
	}
	return out
}

// NearestIndices returns the indices of up to n points ordered by distance
// from p.
func NearestIndices(p Point, pts []Point, n int) []int {
	if n <= 0 || len(pts) == 0 {
		return nil
	}
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, len(pts))
	for i, v := range pts {
		cands[i] = cand{idx: i, dist: Distance(p, v)}
	}
	// Partial selection sort; n is small.
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]int, 0, n)
	for k := 0; k < n; k++ {
		best := k
		for j := k + 1; j < len(cands); j++ {
			if cands[j].dist < cands[best].dist {
				best = j
			}
		}
		cands[k], cands[best] = cands[best], cands[k]
		out = append(out, cands[k].idx)
	}
	return out
}

// closestOnSegment projects p onto segment a-b in a local equirectangular frame.
func closestOnSegment(p, a, b Point) Point {
	ax, ay := DegreesToMeters(p.Lat, a.Lon-p.Lon, a.Lat-p.Lat)
	bx, by := DegreesToMeters(p.Lat, b.Lon-p.Lon, b.Lat-p.Lat)

	dx := bx - ax
	dy := by - ay
	if dx == 0 && dy == 0 {
		return a
	}

	// p is the origin of the frame
	t := (-ax*dx - ay*dy) / (dx*dx + dy*dy)
	switch {
	case t < 0:
		return a
	case t > 1:
		return b
	}
	return Interpolate(a, b, t)
}

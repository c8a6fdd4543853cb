package terrain

import (
	"context"
	"math"

	"flightassure/pkg/geo"
	"flightassure/pkg/metrics"
)

// DefaultSampleInterval is used when a caller passes a non-positive interval.
const DefaultSampleInterval = 10.0

// Position3D is a location with an elevation in meters AMSL.
type Position3D struct {
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Elevation float64 `json:"elevation"`
}

// Point drops the elevation.
func (p Position3D) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lon: p.Lon}
}

// ProfilePoint is one sample along a line of sight.
type ProfilePoint struct {
	Distance      float64 `json:"distance"`
	Terrain       float64 `json:"terrain"`
	LineOfSight   float64 `json:"lineOfSight"`
	LowConfidence bool    `json:"lowConfidence,omitempty"`
}

// LOSResult summarises a point-to-point check. The obstruction fields are
// set only when Clear is false.
type LOSResult struct {
	Clear               bool     `json:"clear"`
	ObstructionDistance *float64 `json:"obstructionDistance,omitempty"`
	ObstructionFraction *float64 `json:"obstructionFraction,omitempty"`
	TotalDistance       float64  `json:"totalDistance"`
	LowConfidence       bool     `json:"lowConfidence,omitempty"`
}

// Checker samples terrain between two positions.
type Checker struct {
	elev      Elevator
	curvature bool
}

// NewChecker creates a checker. With curvature set, the line of sight is
// lowered by the earth bulge x*(d-x)/(2R) at each sample.
func NewChecker(e Elevator, curvature bool) *Checker {
	return &Checker{elev: e, curvature: curvature}
}

// CheckLOS samples ceil(d/interval)+1 points from origin to target and
// reports the first interior sample whose terrain rises above the line of
// sight. The full profile is always returned.
func (c *Checker) CheckLOS(ctx context.Context, origin, target Position3D, interval float64) (LOSResult, []ProfilePoint) {
	d := geo.Distance(origin.Point(), target.Point())
	if d == 0 || math.IsNaN(d) {
		metrics.RecordLOS(true)
		return LOSResult{Clear: true}, []ProfilePoint{}
	}

	n := sampleCount(d, interval)
	profile := make([]ProfilePoint, n)
	res := LOSResult{Clear: true, TotalDistance: d}

	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		p := c.sample(ctx, origin, target, d, t)
		profile[i] = p
		if p.LowConfidence {
			res.LowConfidence = true
		}

		interior := i > 0 && i < n-1
		if interior && res.Clear && p.Terrain > p.LineOfSight {
			res.Clear = false
			dist, frac := t*d, t
			res.ObstructionDistance = &dist
			res.ObstructionFraction = &frac
		}
	}

	metrics.RecordLOS(res.Clear)
	return res, profile
}

// IsVisible is the binary variant of CheckLOS. It stops at the first
// obstruction and does not build a profile.
func (c *Checker) IsVisible(ctx context.Context, origin, target Position3D, interval float64) bool {
	d := geo.Distance(origin.Point(), target.Point())
	if d == 0 || math.IsNaN(d) {
		return true
	}

	n := sampleCount(d, interval)
	for i := 1; i < n-1; i++ {
		t := float64(i) / float64(n-1)
		if p := c.sample(ctx, origin, target, d, t); p.Terrain > p.LineOfSight {
			return false
		}
	}
	return true
}

func (c *Checker) sample(ctx context.Context, origin, target Position3D, d, t float64) ProfilePoint {
	at := geo.Interpolate(origin.Point(), target.Point(), t)
	s := c.elev.ElevationAt(ctx, at.Lon, at.Lat)

	los := origin.Elevation + (target.Elevation-origin.Elevation)*t
	x := t * d
	if c.curvature {
		los -= x * (d - x) / (2 * geo.EarthRadius)
	}

	return ProfilePoint{
		Distance:      x,
		Terrain:       s.Meters,
		LineOfSight:   los,
		LowConfidence: s.LowConfidence(),
	}
}

func sampleCount(d, interval float64) int {
	if interval <= 0 || math.IsNaN(interval) {
		interval = DefaultSampleInterval
	}
	return int(math.Ceil(d/interval)) + 1
}

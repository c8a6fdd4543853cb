package analysis

import (
	"math"

	"flightassure/pkg/geo"
	"flightassure/pkg/terrain"
)

// Type names an analysis.
type Type string

const (
	TypeStation          Type = "station"
	TypeMerged           Type = "merged"
	TypeFlightPath       Type = "flight_path"
	TypeStationToStation Type = "station_to_station"
)

// StationType is the role of a station.
type StationType string

const (
	StationGround   StationType = "primary-ground-station"
	StationObserver StationType = "observer"
	StationRepeater StationType = "repeater"
)

// ParseStationType maps a name to a StationType. The short form
// "ground-station" is accepted for StationGround.
func ParseStationType(name string) StationType {
	if name == "ground-station" {
		return StationGround
	}
	return StationType(name)
}

// Valid reports whether t is a known station type.
func (t StationType) Valid() bool {
	switch t {
	case StationGround, StationObserver, StationRepeater:
		return true
	}
	return false
}

// Station is a candidate transmitter or observer. Its elevation is the
// terrain at its location plus ElevationOffset.
type Station struct {
	ID              string      `json:"id"`
	Type            StationType `json:"type"`
	Lon             float64     `json:"lon"`
	Lat             float64     `json:"lat"`
	ElevationOffset float64     `json:"elevationOffset"`
	Range           float64     `json:"range"`
	GridResolution  float64     `json:"gridResolution"`
}

// Point returns the station location.
func (s Station) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

// Request describes one analysis run.
//
// Station analysis uses Stations[0]. Merged analysis covers the bounding box
// of all stations grown by the largest station range, at the finest station
// resolution. Flight-path analysis tiles the path grown by Margin at
// GridResolution; any Stations are used for path coverage.
type Request struct {
	Type       Type                 `json:"type"`
	Stations   []Station            `json:"stations,omitempty"`
	FlightPath []terrain.Position3D `json:"flightPath,omitempty"`

	GridResolution float64 `json:"gridResolution,omitempty"`
	Margin         float64 `json:"margin,omitempty"`
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func validateStation(i int, s Station, needGrid bool) error {
	if !s.Type.Valid() {
		return invalidInput("station %d: unknown station type %q", i, s.Type)
	}
	if !finite(s.Lon, s.Lat, s.ElevationOffset) || !s.Point().Valid() {
		return invalidInput("station %d: location must be a finite longitude/latitude", i)
	}
	if !needGrid {
		return nil
	}
	if !finite(s.Range) || s.Range <= 0 {
		return invalidInput("station %d: analysis range must be positive", i)
	}
	if !finite(s.GridResolution) || s.GridResolution <= 0 {
		return invalidInput("station %d: grid resolution must be positive", i)
	}
	return nil
}

// Validate checks the parameters required by the request type.
func (r Request) Validate() error {
	switch r.Type {
	case TypeStation:
		if len(r.Stations) == 0 {
			return invalidInput("station analysis requires a station")
		}
		return validateStation(0, r.Stations[0], true)

	case TypeMerged:
		if len(r.Stations) < 2 {
			return invalidInput("merged analysis requires at least 2 stations, got %d", len(r.Stations))
		}
		for i, s := range r.Stations {
			if err := validateStation(i, s, true); err != nil {
				return err
			}
		}
		return nil

	case TypeFlightPath:
		if len(r.FlightPath) < 2 {
			return invalidInput("flight path analysis requires at least 2 path points, got %d", len(r.FlightPath))
		}
		for i, p := range r.FlightPath {
			if !finite(p.Lon, p.Lat, p.Elevation) || !(geo.Point{Lat: p.Lat, Lon: p.Lon}).Valid() {
				return invalidInput("flight path point %d must be finite", i)
			}
		}
		if !finite(r.GridResolution) || r.GridResolution <= 0 {
			return invalidInput("grid resolution must be positive")
		}
		if !finite(r.Margin) || r.Margin < 0 {
			return invalidInput("margin must not be negative")
		}
		for i, s := range r.Stations {
			if err := validateStation(i, s, false); err != nil {
				return err
			}
		}
		return nil

	case TypeStationToStation:
		if len(r.Stations) != 2 {
			return invalidInput("station-to-station check requires exactly 2 stations, got %d", len(r.Stations))
		}
		for i, s := range r.Stations {
			if err := validateStation(i, s, false); err != nil {
				return err
			}
		}
		return nil
	}
	return invalidInput("unknown analysis type %q", r.Type)
}

// Range returns the largest analysis extent the request asks for.
func (r Request) Range() float64 {
	if r.Type == TypeFlightPath {
		return r.Margin
	}
	var m float64
	for _, s := range r.Stations {
		m = math.Max(m, s.Range)
	}
	return m
}

// Resolution returns the grid resolution the request would use.
func (r Request) Resolution() float64 {
	if r.Type == TypeFlightPath {
		return r.GridResolution
	}
	res := math.Inf(1)
	for _, s := range r.Stations {
		if s.GridResolution > 0 {
			res = math.Min(res, s.GridResolution)
		}
	}
	if math.IsInf(res, 1) {
		return 0
	}
	return res
}

func (r Request) stationPoints() []geo.Point {
	pts := make([]geo.Point, len(r.Stations))
	for i, s := range r.Stations {
		pts[i] = s.Point()
	}
	return pts
}

func (r Request) pathPoints() []geo.Point {
	pts := make([]geo.Point, len(r.FlightPath))
	for i, p := range r.FlightPath {
		pts[i] = p.Point()
	}
	return pts
}

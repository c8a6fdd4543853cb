package towers

import (
	"flightassure/pkg/analysis"
	"flightassure/pkg/store"
)

// DefaultAntennaHeight is used for towers whose licence records no height.
const DefaultAntennaHeight = 30.0

// RepeaterStation converts an imported tower to a repeater station mounted
// at the tower's antenna height.
func RepeaterStation(t store.TowerRecord, rangeM, resolution float64) analysis.Station {
	h := t.Height
	if h <= 0 {
		h = DefaultAntennaHeight
	}
	return analysis.Station{
		ID:              "tower-" + t.ID,
		Type:            analysis.StationRepeater,
		Lon:             t.Lon,
		Lat:             t.Lat,
		ElevationOffset: h,
		Range:           rangeM,
		GridResolution:  resolution,
	}
}

// RepeaterStations converts every tower.
func RepeaterStations(ts []store.TowerRecord, rangeM, resolution float64) []analysis.Station {
	out := make([]analysis.Station, len(ts))
	for i, t := range ts {
		out[i] = RepeaterStation(t, rangeM, resolution)
	}
	return out
}

package analysis

import (
	"flightassure/pkg/grid"
	"flightassure/pkg/terrain"
)

// Stats summarises a run.
type Stats struct {
	TotalCells         int     `json:"totalCells"`
	VisibleCells       int     `json:"visibleCells"`
	AverageVisibility  float64 `json:"averageVisibility"`
	ElapsedMS          int64   `json:"elapsedTimeMs"`
	FailedCells        int     `json:"failedCells,omitempty"`
	LowConfidenceCells int     `json:"lowConfidenceCells,omitempty"`
}

// ComputeStats aggregates cell visibility. Cells whose check failed count
// toward the total with zero visibility. An empty set is an error.
func ComputeStats(cells []*grid.Cell) (Stats, error) {
	if len(cells) == 0 {
		return Stats{}, ErrNoCells
	}

	var s Stats
	var sum float64
	for _, c := range cells {
		if c.Visibility != nil {
			sum += *c.Visibility
		}
		if c.Visible() {
			s.VisibleCells++
		}
		if c.ElevationConfidence == terrain.ConfidenceFallback {
			s.LowConfidenceCells++
		}
	}
	s.TotalCells = len(cells)
	s.AverageVisibility = sum / float64(len(cells))
	return s, nil
}

// MergedTier maps the number of stations that see a cell to a visibility
// percentage: none 0, one 50, two or more 100.
//
// This is a coarse approximation kept for compatibility; it does not model
// signal combination.
func MergedTier(visibleStations int) float64 {
	switch {
	case visibleStations <= 0:
		return 0
	case visibleStations == 1:
		return 50
	}
	return 100
}

// FlightPathVisibility describes how much of a path the stations can see.
type FlightPathVisibility struct {
	TotalLength   float64 `json:"totalLength"`
	VisibleLength float64 `json:"visibleLength"`
	// Coverage is the visible percentage of the path length per station type.
	Coverage map[StationType]float64 `json:"coverage,omitempty"`
}

// VisiblePercent returns VisibleLength as a percentage of TotalLength.
func (f FlightPathVisibility) VisiblePercent() float64 {
	if f.TotalLength == 0 {
		return 0
	}
	return 100 * f.VisibleLength / f.TotalLength
}

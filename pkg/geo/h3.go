package geo

// h3EdgeMeters is the average H3 hexagon edge length per resolution 0..15.
var h3EdgeMeters = [...]float64{
	1281256, 483057, 182513, 68979, 26072, 9854, 3725, 1406,
	531.4, 200.8, 75.86, 28.66, 10.83, 4.09, 1.55, 0.584,
}

// MaxH3Resolution is the finest H3 resolution.
const MaxH3Resolution = len(h3EdgeMeters) - 1

// H3EdgeMeters returns the average hexagon edge at res, or 0 when res is
// out of range.
func H3EdgeMeters(res int) float64 {
	if res < 0 || res > MaxH3Resolution {
		return 0
	}
	return h3EdgeMeters[res]
}

// MinH3Resolution returns the coarsest resolution whose cells are not much
// larger than spacing meters (edge at most 1.5x spacing). Spacings below the
// finest cell return MaxH3Resolution.
func MinH3Resolution(spacing float64) int {
	for res, edge := range h3EdgeMeters {
		if edge <= 1.5*spacing {
			return res
		}
	}
	return MaxH3Resolution
}

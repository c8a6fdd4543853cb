package terrain

import (
	"context"
	"errors"
)

// ErrNoTerrain is returned by Readiness when no terrain source is loaded.
var ErrNoTerrain = errors.New("terrain source not ready")

// Source is a point elevation provider. ok=false means the source has no
// data for the coordinate yet; err is reserved for real failures.
type Source interface {
	Elevation(ctx context.Context, lon, lat float64) (meters float64, ok bool, err error)
}

// Confidence records which link of the oracle chain produced a sample.
type Confidence int

const (
	ConfidencePrimary Confidence = iota
	ConfidenceSecondary
	ConfidenceFallback
)

func (c Confidence) String() string {
	switch c {
	case ConfidencePrimary:
		return "primary"
	case ConfidenceSecondary:
		return "secondary"
	case ConfidenceFallback:
		return "fallback"
	}
	return "unknown"
}

// Sample is an elevation in meters AMSL and where it came from.
type Sample struct {
	Meters     float64
	Confidence Confidence
}

// LowConfidence reports whether the sample is the hardcoded default.
func (s Sample) LowConfidence() bool {
	return s.Confidence == ConfidenceFallback
}

// FlatSource returns the same elevation everywhere.
type FlatSource float64

// Elevation implements Source.
func (f FlatSource) Elevation(_ context.Context, _, _ float64) (float64, bool, error) {
	return float64(f), true, nil
}

// FuncSource adapts a pure function of (lon, lat) to a Source.
type FuncSource func(lon, lat float64) float64

// Elevation implements Source.
func (f FuncSource) Elevation(_ context.Context, lon, lat float64) (float64, bool, error) {
	return f(lon, lat), true, nil
}

// EmptySource never has data. Useful for exercising the fallback path.
type EmptySource struct{}

// Elevation implements Source.
func (EmptySource) Elevation(context.Context, float64, float64) (float64, bool, error) {
	return 0, false, nil
}

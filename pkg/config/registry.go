package config

// Persistent state keys (Registry)
const (
	KeyActiveTier     = "active_tier"
	KeySampleInterval = "sample_interval"
	KeyEarthCurvature = "earth_curvature"
	KeyChunkSize      = "chunk_size"
	KeyYieldPause     = "yield_pause"
	KeyTargetHeight   = "target_height"
	KeyNearestPoints  = "nearest_path_points"

	// KeyFeaturePrefix prefixes feature-flag overrides, e.g. "feature.merged_analysis".
	KeyFeaturePrefix = "feature."
)

// FeatureKey returns the state key of a feature-flag override.
func FeatureKey(name string) string {
	return KeyFeaturePrefix + name
}

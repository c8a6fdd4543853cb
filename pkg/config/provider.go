package config

import (
	"context"
	"strconv"
	"time"

	"flightassure/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Tier
	ActiveTier(ctx context.Context) string
	FeatureOverride(ctx context.Context, name string) (enabled, set bool)

	// Analysis
	SampleInterval(ctx context.Context) float64
	EarthCurvature(ctx context.Context) bool
	ChunkSize(ctx context.Context) int
	YieldPause(ctx context.Context) time.Duration
	TargetHeight(ctx context.Context) float64
	NearestPathPoints(ctx context.Context) int

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) ActiveTier(ctx context.Context) string {
	return p.getString(ctx, KeyActiveTier, p.base.Tier.Default)
}

func (p *UnifiedProvider) FeatureOverride(ctx context.Context, name string) (enabled, set bool) {
	if p.store == nil {
		return false, false
	}
	val, ok := p.store.GetState(ctx, FeatureKey(name))
	if !ok || val == "" {
		return false, false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return b, true
}

func (p *UnifiedProvider) SampleInterval(ctx context.Context) float64 {
	v := p.getFloat64(ctx, KeySampleInterval, p.base.Analysis.SampleInterval.Meters())
	if v <= 0 {
		return p.base.Analysis.SampleInterval.Meters()
	}
	return v
}

func (p *UnifiedProvider) EarthCurvature(ctx context.Context) bool {
	return p.getBool(ctx, KeyEarthCurvature, p.base.Terrain.EarthCurvature)
}

func (p *UnifiedProvider) ChunkSize(ctx context.Context) int {
	v := p.getInt(ctx, KeyChunkSize, p.base.Analysis.ChunkSize)
	if v <= 0 {
		return p.base.Analysis.ChunkSize
	}
	return v
}

func (p *UnifiedProvider) YieldPause(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyYieldPause, p.base.Analysis.YieldPause.Std())
}

func (p *UnifiedProvider) TargetHeight(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyTargetHeight, p.base.Analysis.TargetHeight.Meters())
}

func (p *UnifiedProvider) NearestPathPoints(ctx context.Context) int {
	v := p.getInt(ctx, KeyNearestPoints, p.base.Analysis.NearestPathPoints)
	if v < 1 {
		return 1
	}
	return v
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(ctx context.Context, key string, fallback float64) float64 {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getBool(ctx context.Context, key string, fallback bool) bool {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val == "true"
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}

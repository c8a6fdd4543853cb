// Package tier maps the active subscription tier to analysis limits and
// feature gates. The active tier and per-feature overrides live in the
// persistent state store.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"flightassure/pkg/analysis"
	"flightassure/pkg/config"
	"flightassure/pkg/store"
)

// Name identifies a tier.
type Name string

const (
	Community  Name = "community"
	Commercial Name = "commercial"
	Enterprise Name = "enterprise"
)

// Feature is a gated capability.
type Feature string

const (
	FeatureStationLOS Feature = "station_los"
	FeatureMerged     Feature = "merged_analysis"
	FeatureFlightPath Feature = "flight_path_analysis"
	FeatureExport     Feature = "export"
	FeatureBattery    Feature = "battery_analysis"
)

var ErrUnknownTier = errors.New("unknown tier")

// Plan is the static definition of a tier.
type Plan struct {
	Name     Name             `json:"name"`
	Rank     int              `json:"rank"`
	Limits   analysis.Limits  `json:"limits"`
	Features map[Feature]bool `json:"features"`
}

var plans = map[Name]Plan{
	Community: {
		Name:   Community,
		Rank:   0,
		Limits: analysis.Limits{MaxRange: 2000, MinGridResolution: 50, MaxStationCount: 1},
		Features: map[Feature]bool{
			FeatureStationLOS: true,
		},
	},
	Commercial: {
		Name:   Commercial,
		Rank:   1,
		Limits: analysis.Limits{MaxRange: 5000, MinGridResolution: 25, MaxStationCount: 3},
		Features: map[Feature]bool{
			FeatureStationLOS: true,
			FeatureMerged:     true,
			FeatureFlightPath: true,
			FeatureExport:     true,
		},
	},
	Enterprise: {
		Name:   Enterprise,
		Rank:   2,
		Limits: analysis.Limits{MaxRange: 15000, MinGridResolution: 10, MaxStationCount: 10},
		Features: map[Feature]bool{
			FeatureStationLOS: true,
			FeatureMerged:     true,
			FeatureFlightPath: true,
			FeatureExport:     true,
			FeatureBattery:    true,
		},
	},
}

// Plans returns all tiers ordered by rank.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Lookup returns the plan for name.
func Lookup(name string) (Plan, error) {
	p, ok := plans[Name(name)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return p, nil
}

// Service resolves the active tier. It implements analysis.LimitProvider.
type Service struct {
	cfg   config.Provider
	state store.StateStore
}

// NewService creates a tier service. st may be nil, which makes the tier
// read-only.
func NewService(cfg config.Provider, st store.StateStore) *Service {
	return &Service{cfg: cfg, state: st}
}

// Active returns the active plan, falling back to community for unknown names.
func (s *Service) Active(ctx context.Context) Plan {
	name := s.cfg.ActiveTier(ctx)
	p, err := Lookup(name)
	if err != nil {
		slog.Warn("Unknown active tier, using community", "tier", name)
		return plans[Community]
	}
	return p
}

// Limits implements analysis.LimitProvider.
func (s *Service) Limits(ctx context.Context) analysis.Limits {
	return s.Active(ctx).Limits
}

// Permits implements analysis.LimitProvider.
func (s *Service) Permits(ctx context.Context, t analysis.Type) bool {
	switch t {
	case analysis.TypeStation:
		return true
	case analysis.TypeMerged:
		return s.Enabled(ctx, FeatureMerged)
	case analysis.TypeFlightPath:
		return s.Enabled(ctx, FeatureFlightPath)
	case analysis.TypeStationToStation:
		return s.Enabled(ctx, FeatureStationLOS)
	}
	return false
}

// Enabled reports whether f is available, honoring persisted overrides.
func (s *Service) Enabled(ctx context.Context, f Feature) bool {
	if on, set := s.cfg.FeatureOverride(ctx, string(f)); set {
		return on
	}
	return s.Active(ctx).Features[f]
}

// Features returns the effective state of every known feature.
func (s *Service) Features(ctx context.Context) map[Feature]bool {
	out := make(map[Feature]bool)
	for _, f := range []Feature{FeatureStationLOS, FeatureMerged, FeatureFlightPath, FeatureExport, FeatureBattery} {
		out[f] = s.Enabled(ctx, f)
	}
	return out
}

// SetTier persists the active tier.
func (s *Service) SetTier(ctx context.Context, name string) error {
	if _, err := Lookup(name); err != nil {
		return err
	}
	if s.state == nil {
		return errors.New("tier state is read-only")
	}
	if err := s.state.SetState(ctx, config.KeyActiveTier, name); err != nil {
		return fmt.Errorf("persist tier: %w", err)
	}
	slog.Info("Active tier changed", "tier", name)
	return nil
}

// SetFeature persists an override for f.
func (s *Service) SetFeature(ctx context.Context, f Feature, enabled bool) error {
	if s.state == nil {
		return errors.New("tier state is read-only")
	}
	return s.state.SetState(ctx, config.FeatureKey(string(f)), strconv.FormatBool(enabled))
}

// ClearFeature removes an override for f.
func (s *Service) ClearFeature(ctx context.Context, f Feature) error {
	if s.state == nil {
		return nil
	}
	return s.state.DeleteState(ctx, config.FeatureKey(string(f)))
}

package terrain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uber/h3-go/v4"

	"flightassure/pkg/geo"
	"flightassure/pkg/metrics"
	"flightassure/pkg/tracker"
)

// Tracker source names.
const (
	SourcePrimary   = "terrain-primary"
	SourceSecondary = "terrain-secondary"
	sourceCache     = "terrain-cache"
)

// Elevator answers point elevation queries and never fails.
type Elevator interface {
	ElevationAt(ctx context.Context, lon, lat float64) Sample
}

// Readiness reports whether terrain queries can be answered at all.
type Readiness interface {
	Ready(ctx context.Context) error
}

// DefaultCacheResolution keys the memo by H3 cells of roughly 10 m edge.
const DefaultCacheResolution = 12

// OracleOptions configures the retry and fallback chain. A zero
// CacheResolution means DefaultCacheResolution.
type OracleOptions struct {
	Retries         int
	RetryDelay      time.Duration
	Default         float64
	CacheResolution int
	CacheSize       int
}

// Oracle wraps a primary and optional secondary Source with retries, an
// H3-keyed memo and a constant fallback.
type Oracle struct {
	primary   Source
	secondary Source
	opts      OracleOptions
	memo      *lru.Cache[h3.Cell, Sample]
	tracker   *tracker.Tracker
}

// NewOracle creates an oracle. Either source may be nil; t may be nil.
func NewOracle(primary, secondary Source, t *tracker.Tracker, opts OracleOptions) (*Oracle, error) {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}
	if opts.CacheResolution == 0 {
		opts.CacheResolution = DefaultCacheResolution
	}
	if opts.CacheResolution < 0 || opts.CacheResolution > geo.MaxH3Resolution {
		return nil, fmt.Errorf("terrain cache resolution out of range: %d", opts.CacheResolution)
	}
	memo, err := lru.New[h3.Cell, Sample](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = tracker.New()
	}
	return &Oracle{primary: primary, secondary: secondary, opts: opts, memo: memo, tracker: t}, nil
}

// Ready implements Readiness.
func (o *Oracle) Ready(_ context.Context) error {
	if o.primary == nil && o.secondary == nil {
		return ErrNoTerrain
	}
	return nil
}

// ElevationAt implements Elevator.
func (o *Oracle) ElevationAt(ctx context.Context, lon, lat float64) Sample {
	key, keyErr := h3.LatLngToCell(h3.NewLatLng(lat, lon), o.opts.CacheResolution)
	if keyErr == nil {
		if s, ok := o.memo.Get(key); ok {
			o.tracker.TrackCacheHit(sourceCache)
			metrics.RecordElevation("cache")
			return s
		}
		o.tracker.TrackCacheMiss(sourceCache)
	}

	s, ok := o.resolve(ctx, lon, lat)
	if !ok {
		return s
	}
	if keyErr == nil {
		o.memo.Add(key, s)
		metrics.ElevationCacheEntries.Set(float64(o.memo.Len()))
	}
	return s
}

// resolve walks the chain. ok=false means the fallback was used and the
// result must not be memoised.
func (o *Oracle) resolve(ctx context.Context, lon, lat float64) (Sample, bool) {
	if o.primary != nil {
		for attempt := 1; attempt <= o.opts.Retries; attempt++ {
			if attempt > 1 {
				metrics.ElevationRetries.Inc()
				if !sleepCtx(ctx, o.opts.RetryDelay) {
					break
				}
			}
			m, ok, err := o.primary.Elevation(ctx, lon, lat)
			if err == nil && ok {
				o.tracker.TrackSuccess(SourcePrimary)
				metrics.RecordElevation("primary")
				return Sample{Meters: m, Confidence: ConfidencePrimary}, true
			}
			if err != nil {
				o.tracker.TrackFailure(SourcePrimary)
				slog.Debug("Primary terrain query failed", "lon", lon, "lat", lat, "attempt", attempt, "error", err)
			} else {
				o.tracker.TrackNoData(SourcePrimary)
			}
		}
	}

	if o.secondary != nil && ctx.Err() == nil {
		m, ok, err := o.secondary.Elevation(ctx, lon, lat)
		switch {
		case err != nil:
			o.tracker.TrackFailure(SourceSecondary)
			slog.Debug("Secondary terrain query failed", "lon", lon, "lat", lat, "error", err)
		case !ok:
			o.tracker.TrackNoData(SourceSecondary)
		default:
			o.tracker.TrackSuccess(SourceSecondary)
			metrics.RecordElevation("secondary")
			return Sample{Meters: m, Confidence: ConfidenceSecondary}, true
		}
	}

	// A default of 0 can understate obstruction risk near sea level.
	slog.Warn("Terrain elevation unavailable, using default", "lon", lon, "lat", lat, "default", o.opts.Default)
	metrics.RecordElevation("fallback")
	return Sample{Meters: o.opts.Default, Confidence: ConfidenceFallback}, false
}

// Tracker returns the per-source statistics.
func (o *Oracle) Tracker() *tracker.Tracker { return o.tracker }

// CacheLen returns the number of memoised cells.
func (o *Oracle) CacheLen() int { return o.memo.Len() }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package terrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"flightassure/pkg/cache"
	"flightassure/pkg/request"
)

// Fetcher downloads a URL. *request.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// RGBTileOptions configures an RGBTileSource.
type RGBTileOptions struct {
	URLTemplate     string
	Token           string
	Zoom            int
	TileCacheSize   int
	BreakerTimeout  time.Duration
	BreakerFailures uint32
}

// tile is a decoded terrain-RGB tile. It is also the msgpack blob persisted
// in the cache store.
type tile struct {
	Z       int       `msgpack:"z"`
	X       int       `msgpack:"x"`
	Y       int       `msgpack:"y"`
	Size    int       `msgpack:"size"`
	Heights []float32 `msgpack:"h"`
}

type tileKey struct{ z, x, y int }

func (k tileKey) String() string {
	return "terrain-rgb:" + strconv.Itoa(k.z) + "/" + strconv.Itoa(k.x) + "/" + strconv.Itoa(k.y)
}

// RGBTileSource decodes elevations from Mapbox-style terrain-RGB PNG tiles.
type RGBTileSource struct {
	fetch   Fetcher
	persist cache.Cacher
	opts    RGBTileOptions
	tiles   *lru.Cache[tileKey, *tile]
	breaker *gobreaker.CircuitBreaker[*tile]
	group   singleflight.Group
}

// NewRGBTileSource creates a tile-backed source. persist may be nil.
func NewRGBTileSource(f Fetcher, persist cache.Cacher, opts RGBTileOptions) (*RGBTileSource, error) {
	if opts.URLTemplate == "" {
		return nil, errors.New("terrain-rgb url template is empty")
	}
	if opts.Zoom < 0 || opts.Zoom > 22 {
		return nil, fmt.Errorf("terrain-rgb zoom out of range: %d", opts.Zoom)
	}
	if opts.TileCacheSize <= 0 {
		opts.TileCacheSize = 64
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	tiles, err := lru.New[tileKey, *tile](opts.TileCacheSize)
	if err != nil {
		return nil, err
	}

	s := &RGBTileSource{fetch: f, persist: persist, opts: opts, tiles: tiles}
	s.breaker = gobreaker.NewCircuitBreaker[*tile](gobreaker.Settings{
		Name:    "terrain-rgb",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Terrain tile breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// Missing tiles are an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || request.IsNotFound(err) || errors.Is(err, context.Canceled)
		},
	})
	return s, nil
}

// Elevation implements Source.
func (s *RGBTileSource) Elevation(ctx context.Context, lon, lat float64) (float64, bool, error) {
	key, fx, fy := tileFor(lon, lat, s.opts.Zoom)

	t, err := s.tile(ctx, key)
	if err != nil {
		if request.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	px := clampInt(int(fx*float64(t.Size)), 0, t.Size-1)
	py := clampInt(int(fy*float64(t.Size)), 0, t.Size-1)
	return float64(t.Heights[py*t.Size+px]), true, nil
}

func (s *RGBTileSource) tile(ctx context.Context, key tileKey) (*tile, error) {
	if t, ok := s.tiles.Get(key); ok {
		return t, nil
	}

	// The shared load outlives any single caller; the fetcher's own timeout
	// bounds it.
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		if t := s.loadPersisted(fctx, key); t != nil {
			s.tiles.Add(key, t)
			return t, nil
		}

		t, err := s.breaker.Execute(func() (*tile, error) {
			return s.download(fctx, key)
		})
		if err != nil {
			return nil, err
		}
		s.tiles.Add(key, t)
		s.savePersisted(fctx, key, t)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tile), nil
	}
}

func (s *RGBTileSource) download(ctx context.Context, key tileKey) (*tile, error) {
	body, err := s.fetch.Get(ctx, s.tileURL(key), "")
	if err != nil {
		return nil, err
	}
	t, err := decodeTile(body)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", key, err)
	}
	t.Z, t.X, t.Y = key.z, key.x, key.y
	return t, nil
}

func (s *RGBTileSource) loadPersisted(ctx context.Context, key tileKey) *tile {
	if s.persist == nil {
		return nil
	}
	data, ok := s.persist.GetCache(ctx, key.String())
	if !ok {
		return nil
	}
	var t tile
	if err := msgpack.Unmarshal(data, &t); err != nil || t.Size*t.Size != len(t.Heights) || t.Size == 0 {
		slog.Debug("Discarding unreadable cached tile", "key", key.String(), "error", err)
		return nil
	}
	return &t
}

func (s *RGBTileSource) savePersisted(ctx context.Context, key tileKey, t *tile) {
	if s.persist == nil {
		return
	}
	data, err := msgpack.Marshal(t)
	if err != nil {
		slog.Warn("Failed to encode tile", "key", key.String(), "error", err)
		return
	}
	if err := s.persist.SetCache(ctx, key.String(), data); err != nil {
		slog.Warn("Failed to persist tile", "key", key.String(), "error", err)
	}
}

func (s *RGBTileSource) tileURL(key tileKey) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(key.z),
		"{x}", strconv.Itoa(key.x),
		"{y}", strconv.Itoa(key.y),
		"{token}", s.opts.Token,
	).Replace(s.opts.URLTemplate)
}

// BreakerState reports the circuit breaker state for diagnostics.
func (s *RGBTileSource) BreakerState() string {
	return s.breaker.State().String()
}

// DecodeRGB converts a terrain-RGB pixel to meters.
func DecodeRGB(r, g, b uint8) float64 {
	return -10000 + float64(int(r)*65536+int(g)*256+int(b))*0.1
}

func decodeTile(body []byte) (*tile, error) {
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 {
		return nil, fmt.Errorf("unexpected tile dimensions %dx%d", b.Dx(), b.Dy())
	}

	size := b.Dx()
	heights := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			heights[y*size+x] = float32(pixelHeight(img, b.Min.X+x, b.Min.Y+y))
		}
	}
	return &tile{Size: size, Heights: heights}, nil
}

func pixelHeight(img image.Image, x, y int) float64 {
	if rgba, ok := img.(*image.NRGBA); ok {
		c := rgba.NRGBAAt(x, y)
		return DecodeRGB(c.R, c.G, c.B)
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return DecodeRGB(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// tileFor returns the slippy-map tile containing lon/lat at zoom z and the
// fractional position of the point inside it.
func tileFor(lon, lat float64, z int) (key tileKey, fx, fy float64) {
	n := math.Exp2(float64(z))
	lat = math.Max(-85.05112878, math.Min(85.05112878, lat))
	latRad := lat * math.Pi / 180.0

	xf := (lon + 180.0) / 360.0 * n
	yf := (1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n

	x := clampInt(int(math.Floor(xf)), 0, int(n)-1)
	y := clampInt(int(math.Floor(yf)), 0, int(n)-1)
	return tileKey{z: z, x: x, y: y}, xf - float64(x), yf - float64(y)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

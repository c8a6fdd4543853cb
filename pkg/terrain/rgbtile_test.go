package terrain

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightassure/pkg/cache"
	"flightassure/pkg/request"
)

type fakeFetcher struct {
	body  []byte
	err   error
	calls atomic.Int32
	urls  []string
}

func (f *fakeFetcher) Get(_ context.Context, u, _ string) ([]byte, error) {
	f.calls.Add(1)
	f.urls = append(f.urls, u)
	return f.body, f.err
}

// encodeTile builds a size x size terrain-RGB PNG where each pixel encodes
// height(x, y).
func encodeTile(t *testing.T, size int, height func(x, y int) float64) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := int((height(x, y) + 10000) * 10)
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testTileOptions() RGBTileOptions {
	return RGBTileOptions{
		URLTemplate:     "https://tiles.example.com/{z}/{x}/{y}.png?access_token={token}",
		Token:           "secret",
		Zoom:            0,
		TileCacheSize:   4,
		BreakerTimeout:  time.Minute,
		BreakerFailures: 3,
	}
}

func TestDecodeRGB(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		want    float64
	}{
		{"Sea level", 1, 134, 160, 0},
		{"Minimum", 0, 0, 0, -10000},
		{"Hill", 1, 157, 136, 586.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DecodeRGB(tt.r, tt.g, tt.b), 0.05)
		})
	}
}

func TestTileFor(t *testing.T) {
	key, fx, fy := tileFor(0, 0, 1)
	assert.Equal(t, tileKey{z: 1, x: 1, y: 1}, key)
	assert.InDelta(t, 0, fx, 1e-9)
	assert.InDelta(t, 0, fy, 1e-9)

	key, _, _ = tileFor(180, -90, 3)
	assert.Equal(t, 7, key.x)
	assert.Equal(t, 7, key.y)
}

func TestRGBTileSource_Elevation(t *testing.T) {
	f := &fakeFetcher{body: encodeTile(t, 4, func(x, y int) float64 { return float64(100*y + x) })}
	src, err := NewRGBTileSource(f, nil, testTileOptions())
	require.NoError(t, err)

	// lon -135 -> px 0; lat 0 -> py 2
	m, ok, err := src.Elevation(context.Background(), -135, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 200, m, 0.1)

	// lon 100 -> px 3
	m, _, _ = src.Elevation(context.Background(), 100, 0)
	assert.InDelta(t, 203, m, 0.1)

	assert.Equal(t, int32(1), f.calls.Load(), "decoded tile is reused")
	assert.Equal(t, "https://tiles.example.com/0/0/0.png?access_token=secret", f.urls[0])
}

// gatedFetcher blocks every download until release is closed and fails if
// the context it was handed is cancelled.
type gatedFetcher struct {
	body    []byte
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *gatedFetcher) Get(ctx context.Context, _, _ string) ([]byte, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	<-f.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.body, nil
}

func TestRGBTileSource_SharedDownloadSurvivesCancelledCaller(t *testing.T) {
	f := &gatedFetcher{
		body:    encodeTile(t, 4, func(int, int) float64 { return 250 }),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	src, err := NewRGBTileSource(f, nil, testTileOptions())
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := src.Elevation(firstCtx, 10, 10)
		firstErr <- err
	}()
	<-f.started

	type answer struct {
		m   float64
		ok  bool
		err error
	}
	second := make(chan answer, 1)
	go func() {
		m, ok, err := src.Elevation(context.Background(), 10, 10)
		second <- answer{m, ok, err}
	}()
	// Let the second caller join the in-flight download.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.release)
	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.InDelta(t, 250, got.m, 0.1)
}

func TestRGBTileSource_PersistedTile(t *testing.T) {
	persist, err := cache.NewLayered(8, nil)
	require.NoError(t, err)

	f := &fakeFetcher{body: encodeTile(t, 4, func(x, y int) float64 { return 55 })}
	first, err := NewRGBTileSource(f, persist, testTileOptions())
	require.NoError(t, err)
	_, ok, err := first.Elevation(context.Background(), 10, 10)
	require.NoError(t, err)
	require.True(t, ok)

	offline := &fakeFetcher{err: errors.New("offline")}
	second, err := NewRGBTileSource(offline, persist, testTileOptions())
	require.NoError(t, err)
	m, ok, err := second.Elevation(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 55, m, 0.1)
	assert.Zero(t, offline.calls.Load())
}

func TestRGBTileSource_NotFound(t *testing.T) {
	f := &fakeFetcher{err: &request.StatusError{StatusCode: 404, URL: "x"}}
	src, err := NewRGBTileSource(f, nil, testTileOptions())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, ok, err := src.Elevation(context.Background(), 0, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, "closed", src.BreakerState())
}

func TestRGBTileSource_BreakerOpens(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	src, err := NewRGBTileSource(f, nil, testTileOptions())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := src.Elevation(context.Background(), 0, 0)
		assert.Error(t, err)
	}
	assert.Equal(t, "open", src.BreakerState())
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestRGBTileSource_BadBody(t *testing.T) {
	f := &fakeFetcher{body: []byte("not a png")}
	src, err := NewRGBTileSource(f, nil, testTileOptions())
	require.NoError(t, err)

	_, _, err = src.Elevation(context.Background(), 0, 0)
	assert.ErrorContains(t, err, "decode png")
}

func TestNewRGBTileSource_Validation(t *testing.T) {
	_, err := NewRGBTileSource(&fakeFetcher{}, nil, RGBTileOptions{})
	assert.Error(t, err)

	opts := testTileOptions()
	opts.Zoom = 30
	_, err = NewRGBTileSource(&fakeFetcher{}, nil, opts)
	assert.Error(t, err)
}

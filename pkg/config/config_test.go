package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "flightassure.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 100, cfg.Analysis.ChunkSize)
				assert.Equal(t, 10000, cfg.Analysis.MaxCells)
				assert.Equal(t, 3, cfg.Terrain.Retries)
				assert.Equal(t, "community", cfg.Tier.Default)
				assert.Equal(t, 2.0, cfg.Battery.CruiseVel)
				assert.Equal(t, 8, cfg.Server.ResultCacheSize)
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "chunk_size: 100")
				assert.Contains(t, string(content), "# Options: community, commercial, enterprise")
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				data := "analysis:\n  chunk_size: 50\n  sample_interval: 0.5km\n  yield_pause: 2ms\ntier:\n  default: enterprise\n"
				require.NoError(t, os.WriteFile(configPath, []byte(data), 0o644))
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 50, cfg.Analysis.ChunkSize)
				assert.Equal(t, 500.0, cfg.Analysis.SampleInterval.Meters())
				assert.Equal(t, 2*time.Millisecond, cfg.Analysis.YieldPause.Std())
				assert.Equal(t, "enterprise", cfg.Tier.Default)
				// Untouched values keep their defaults
				assert.Equal(t, 10000, cfg.Analysis.MaxCells)
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "chunk_size: 50")
			},
		},
		{
			name: "InvalidValue",
			setup: func() {
				require.NoError(t, os.WriteFile(configPath, []byte("analysis:\n  chunk_size: 0\n"), 0o644))
			},
			expectedError: true,
		},
		{
			name: "MalformedYAML",
			setup: func() {
				require.NoError(t, os.WriteFile(configPath, []byte("analysis: [unclosed"), 0o644))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
			if tt.checkFile != nil {
				tt.checkFile(t)
			}
		})
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv(EnvTerrainToken, "pk.secret")
	t.Setenv(EnvTier, "commercial")

	cfg, err := Load(filepath.Join(t.TempDir(), "c.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "pk.secret", cfg.Terrain.RGBTiles.Token)
	assert.Equal(t, "commercial", cfg.Tier.Default)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	cfg := DefaultConfig()
	cfg.Analysis.TargetHeight = Distance(120)
	cfg.DB.CacheMaxAge = Duration(2 * Week)
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Distance(120), loaded.Analysis.TargetHeight)
	assert.Equal(t, 2*Week, loaded.DB.CacheMaxAge.Std())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# FlightAssure Configuration"))
}

func TestDefaultConfig_Scheduling(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6*time.Hour, time.Duration(cfg.DB.MaintenanceInterval))
	require.NoError(t, cfg.Validate())
}

func TestValidate_CacheResolution(t *testing.T) {
	tests := []struct {
		name       string
		resolution int
		interval   Distance
		wantErr    bool
	}{
		{"Default", 12, Distance(10), false},
		{"Finest", 15, Distance(10), false},
		{"Zero", 0, Distance(10), true},
		{"Coarser than samples", 11, Distance(10), true},
		{"Coarse with wide sampling", 9, Distance(500), false},
		{"Fine sampling needs finer cells", 12, Distance(2), true},
		{"Beyond finest", 16, Distance(10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Terrain.CacheResolution = tt.resolution
			cfg.Analysis.SampleInterval = tt.interval
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, "terrain.cache_resolution")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "c.yaml")
	require.NoError(t, GenerateDefault(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	// Existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, GenerateDefault(path))
	content, _ := os.ReadFile(path)
	assert.Equal(t, "x", string(content))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"90s", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{"1w2d", 9 * Day, false},
		{"1.5d", 36 * time.Hour, false},
		{"3x", 0, true},
		{"d", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"250", 250, false},
		{"250m", 250, false},
		{"1.5km", 1500, false},
		{"2nm", 3704, false},
		{"100ft", 30.48, false},
		{"far", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDistance(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"flightassure/pkg/geo"
)

// Environment variables consulted when the matching config value is empty.
const (
	EnvTerrainToken = "FLIGHTASSURE_TERRAIN_TOKEN"
	EnvTier         = "FLIGHTASSURE_TIER"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Request  RequestConfig  `yaml:"request"`
	Terrain  TerrainConfig  `yaml:"terrain"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Tier     TierConfig     `yaml:"tier"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Towers   TowersConfig   `yaml:"towers"`
	Battery  BatteryConfig  `yaml:"battery"`
}

// BatteryConfig holds the flight phase classification thresholds.
type BatteryConfig struct {
	GroundVel   float64 `yaml:"ground_vel"`
	CruiseVel   float64 `yaml:"cruise_vel"`
	AltitudeMin float64 `yaml:"altitude_min"`
	ClimbVz     float64 `yaml:"climb_vz"`
	DescendVz   float64 `yaml:"descend_vz"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path        string   `yaml:"path"`
	CacheMaxAge Duration `yaml:"cache_max_age"`
	KeepRuns    int      `yaml:"keep_runs"`
	// MaintenanceInterval repeats pruning and the tower import check while
	// the server runs; 0 runs maintenance at startup only.
	MaintenanceInterval Duration `yaml:"maintenance_interval"`
}

// TowersConfig locates the ACMA RRL export imported at startup.
type TowersConfig struct {
	RRLDir string `yaml:"rrl_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	// StaticDir serves a built frontend when set.
	StaticDir       string `yaml:"static_dir"`
	ResultCacheSize int    `yaml:"result_cache_size"`
}

// RequestConfig holds outbound HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// TerrainConfig holds the terrain oracle chain settings.
type TerrainConfig struct {
	// ElevationFile is the ETOPO1 binary grid used as the primary source.
	ElevationFile    string        `yaml:"elevation_file"`
	Retries          int           `yaml:"retries"`
	RetryDelay       Duration      `yaml:"retry_delay"`
	DefaultElevation float64       `yaml:"default_elevation"`
	CacheResolution  int           `yaml:"cache_resolution"` // H3 resolution of the elevation cache key
	CacheSize        int           `yaml:"cache_size"`
	EarthCurvature   bool          `yaml:"earth_curvature"`
	RGBTiles         RGBTileConfig `yaml:"rgb_tiles"`
}

// RGBTileConfig configures the secondary terrain-RGB tile source.
type RGBTileConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URLTemplate       string   `yaml:"url_template"`
	Token             string   `yaml:"token"`
	Zoom              int      `yaml:"zoom"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	TileCacheSize     int      `yaml:"tile_cache_size"`
	BreakerTimeout    Duration `yaml:"breaker_timeout"`
	BreakerFailures   uint32   `yaml:"breaker_failures"`
}

// AnalysisConfig holds batch runner and grid defaults.
type AnalysisConfig struct {
	ChunkSize         int      `yaml:"chunk_size"`
	Concurrency       int      `yaml:"concurrency"`
	YieldPause        Duration `yaml:"yield_pause"`
	SampleInterval    Distance `yaml:"sample_interval"`
	MaxCells          int      `yaml:"max_cells"`
	TargetHeight      Distance `yaml:"target_height"`
	FlightPathMargin  Distance `yaml:"flight_path_margin"`
	NearestPathPoints int      `yaml:"nearest_path_points"`
	Timeout           Duration `yaml:"timeout"`
}

// TierConfig selects the subscription tier used when none is persisted.
type TierConfig struct {
	Default string `yaml:"default"`
}

// TracingConfig governs OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:       "./logs/server.log",
				Level:      "INFO",
				MaxSizeMB:  32,
				MaxBackups: 3,
			},
			Requests: LogSettings{
				Path:       "./logs/requests.log",
				Level:      "INFO",
				MaxSizeMB:  16,
				MaxBackups: 1,
			},
		},
		DB: DBConfig{
			Path:        "./data/flightassure.db",
			CacheMaxAge:         Duration(30 * Day),
			KeepRuns:            500,
			MaintenanceInterval: Duration(6 * time.Hour),
		},
		Server: ServerConfig{
			Address:         "localhost:8090",
			ResultCacheSize: 8,
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(10 * time.Second),
			},
		},
		Terrain: TerrainConfig{
			ElevationFile:    "data/etopo1/etopo1_ice_g_i2.bin",
			Retries:          3,
			RetryDelay:       Duration(50 * time.Millisecond),
			DefaultElevation: 0,
			CacheResolution:  12,
			CacheSize:        200000,
			EarthCurvature:   false,
			RGBTiles: RGBTileConfig{
				Enabled:           false,
				URLTemplate:       "https://api.mapbox.com/v4/mapbox.terrain-rgb/{z}/{x}/{y}.pngraw?access_token={token}",
				Zoom:              14,
				RequestsPerSecond: 10,
				Burst:             20,
				TileCacheSize:     256,
				BreakerTimeout:    Duration(30 * time.Second),
				BreakerFailures:   5,
			},
		},
		Analysis: AnalysisConfig{
			ChunkSize:         100,
			Concurrency:       16,
			YieldPause:        0,
			SampleInterval:    Distance(10),
			MaxCells:          10000,
			TargetHeight:      Distance(0),
			FlightPathMargin:  Distance(500),
			NearestPathPoints: 1,
			Timeout:           Duration(5 * time.Minute),
		},
		Tier: TierConfig{
			Default: "community",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "flightassure",
			SampleRatio: 1.0,
		},
		Towers: TowersConfig{
			RRLDir: "data/spectra_rrl",
		},
		Battery: BatteryConfig{
			GroundVel:   0.1,
			CruiseVel:   2.0,
			AltitudeMin: 5.0,
			ClimbVz:     -0.1,
			DescendVz:   0.1,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// A .env file next to the working directory is applied to the process
// environment first so secrets never need to live in the YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Missing .env is normal
	_ = godotenv.Load()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.Terrain.RGBTiles.Token == "" {
		if tok := os.Getenv(EnvTerrainToken); tok != "" {
			cfg.Terrain.RGBTiles.Token = tok
		}
	}
	if tier := os.Getenv(EnvTier); tier != "" {
		cfg.Tier.Default = tier
	}
}

var tierName = regexp.MustCompile(`^[a-z]+$`)

// Validate checks values that would otherwise fail deep inside the analysis.
func (c *Config) Validate() error {
	if c.Analysis.ChunkSize <= 0 {
		return fmt.Errorf("analysis.chunk_size must be positive, got %d", c.Analysis.ChunkSize)
	}
	if c.Analysis.MaxCells <= 0 {
		return fmt.Errorf("analysis.max_cells must be positive, got %d", c.Analysis.MaxCells)
	}
	if c.Analysis.SampleInterval <= 0 {
		return fmt.Errorf("analysis.sample_interval must be positive, got %v", c.Analysis.SampleInterval)
	}
	// Cached elevations are shared by every point in an H3 cell, so cells
	// coarser than the LOS sample spacing would flatten the profile.
	minRes := geo.MinH3Resolution(c.Analysis.SampleInterval.Meters())
	if c.Terrain.CacheResolution < minRes || c.Terrain.CacheResolution > geo.MaxH3Resolution {
		return fmt.Errorf("terrain.cache_resolution must be within [%d,%d] for a %v sample interval, got %d",
			minRes, geo.MaxH3Resolution, c.Analysis.SampleInterval, c.Terrain.CacheResolution)
	}
	if !tierName.MatchString(c.Tier.Default) {
		return fmt.Errorf("invalid tier.default %q", c.Tier.Default)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# FlightAssure Configuration
# -------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)

`)
	data = append(header, data...)

	reTier := regexp.MustCompile(`(?m)^(\s+)default:`)
	data = reTier.ReplaceAll(data, []byte("${1}# Options: community, commercial, enterprise\n${1}default:"))

	reToken := regexp.MustCompile(`(?m)^(\s+)token:`)
	data = reToken.ReplaceAll(data, []byte("${1}# Prefer "+EnvTerrainToken+" in .env\n${1}token:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}

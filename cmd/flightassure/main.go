package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flightassure/internal/api"
	"flightassure/pkg/analysis"
	"flightassure/pkg/battery"
	"flightassure/pkg/cache"
	"flightassure/pkg/config"
	"flightassure/pkg/core"
	"flightassure/pkg/db"
	"flightassure/pkg/db/maintenance"
	"flightassure/pkg/logging"
	"flightassure/pkg/probe"
	"flightassure/pkg/request"
	"flightassure/pkg/store"
	"flightassure/pkg/terrain"
	"flightassure/pkg/tier"
	"flightassure/pkg/tracing"
	"flightassure/pkg/tracker"
	"flightassure/pkg/version"
)

var (
	configPath = flag.String("config", "configs/flightassure.yaml", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("FlightAssure Started", "version", version.Version)

	shutdownTracing, err := tracing.Init(ctx, appCfg.Tracing, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracing.Shutdown(shutdownTracing)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	maintOpts := maintenance.Options{
		TowersDir:   appCfg.Towers.RRLDir,
		CacheMaxAge: time.Duration(appCfg.DB.CacheMaxAge),
		KeepRuns:    appCfg.DB.KeepRuns,
	}
	if err := maintenance.Run(ctx, st, dbConn, maintOpts); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	tr := tracker.New()
	oracle, closeTerrain, breaker, err := initTerrain(appCfg, st, tr)
	if err != nil {
		return err
	}
	defer closeTerrain()

	prov := config.NewProvider(appCfg, st)
	tiers := tier.NewService(prov, st)
	slog.Info("Subscription tier", "tier", tiers.Active(ctx).Name)

	hub := api.NewHub()
	go hub.Run(ctx)

	orch := analysis.New(analysis.Deps{
		Elevator:  oracle,
		Readiness: oracle,
		Config:    prov,
		Limits:    tiers,
		History:   st,
		Progress:  hub,
	})

	results, err := api.NewResultCache(appCfg.Server.ResultCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create result cache: %w", err)
	}

	sched := setupScheduler(appCfg, st, dbConn, maintOpts, orch, hub)
	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()
	// Jobs use the database; stop them before the deferred close.
	defer func() {
		cancel()
		<-schedDone
	}()

	// Startup Probes
	probes := healthProbes(appCfg, dbConn, oracle)
	if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	h := api.Handlers{
		Analysis: api.NewAnalysisHandler(orch, results, st, tiers, hub),
		Tier:     api.NewTierHandler(tiers),
		Battery:  api.NewBatteryHandler(tiers, batteryThresholds(appCfg.Battery)),
		Towers:   api.NewTowersHandler(st),
		Stats: api.NewStatsHandler(tr, map[string]func() int{
			"elevation_cache": oracle.CacheLen,
			"results":         results.Len,
			"ws_clients":      hub.ClientCount,
		}, breaker),
		Hub: hub,
		Health: func(ctx context.Context) []probe.Result {
			return probe.Run(ctx, probes)
		},
		StaticDir: appCfg.Server.StaticDir,
	}

	// A run may take the whole analysis timeout plus the response write.
	writeTimeout := time.Duration(appCfg.Analysis.Timeout) + 30*time.Second
	srv := api.NewServer(appCfg.Server.Address, h, writeTimeout, shutdownFunc)
	return runServerLifecycle(ctx, srv, quit, orch)
}

// statusInterval paces the status heartbeat pushed while a run is active.
const statusInterval = 2 * time.Second

func setupScheduler(cfg *config.Config, st store.Store, dbConn *db.DB, opts maintenance.Options, orch *analysis.Orchestrator, hub *api.Hub) *core.Scheduler {
	sched := core.NewScheduler(core.DefaultTick)

	// Maintenance already ran at startup; repeat it on the interval so
	// pruning and a refreshed RRL export apply without a restart.
	if every := time.Duration(cfg.DB.MaintenanceInterval); every > 0 {
		sched.AddJob(core.NewDelayedTimeJob("Maintenance", every, func(c context.Context) {
			if err := maintenance.Run(c, st, dbConn, opts); err != nil {
				slog.Error("Maintenance tasks failed", "error", err)
			}
		}))
	}

	sched.AddJob(core.NewConditionJob("StatusHeartbeat", statusInterval,
		func() bool { return orch.Status().State == analysis.StateRunning },
		func(context.Context) {
			hub.Broadcast(api.Message{Type: api.MessageStatus, Data: orch.Status()})
		}))
	return sched
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// initTerrain builds the oracle chain: the ETOPO1 grid as primary and, when
// enabled, terrain-RGB tiles as secondary. Missing sources are logged; the
// oracle then answers with the configured default.
func initTerrain(cfg *config.Config, st store.Store, tr *tracker.Tracker) (*terrain.Oracle, func(), func() string, error) {
	closer := func() {}
	var primary, secondary terrain.Source
	var breaker func() string

	if path := cfg.Terrain.ElevationFile; path != "" {
		grid, err := terrain.OpenGrid(path)
		if err != nil {
			slog.Warn("Terrain: ETOPO1 data not found or invalid", "path", path, "error", err)
		} else {
			slog.Info("Terrain: ETOPO1 loaded", "path", path)
			primary = grid
			closer = func() { _ = grid.Close() }
		}
	}

	if rc := cfg.Terrain.RGBTiles; rc.Enabled {
		tiles, err := newTileSource(cfg, st, tr)
		if err != nil {
			slog.Warn("Terrain: tile source disabled", "error", err)
		} else {
			slog.Info("Terrain: tile source enabled", "zoom", rc.Zoom)
			secondary = tiles
			breaker = tiles.BreakerState
		}
	}

	if primary == nil && secondary == nil {
		slog.Warn("Terrain: no elevation source available, analyses will be rejected")
	}

	oracle, err := terrain.NewOracle(primary, secondary, tr, terrain.OracleOptions{
		Retries:         cfg.Terrain.Retries,
		RetryDelay:      time.Duration(cfg.Terrain.RetryDelay),
		Default:         cfg.Terrain.DefaultElevation,
		CacheResolution: cfg.Terrain.CacheResolution,
		CacheSize:       cfg.Terrain.CacheSize,
	})
	if err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("failed to create terrain oracle: %w", err)
	}
	return oracle, closer, breaker, nil
}

func newTileSource(cfg *config.Config, st store.Store, tr *tracker.Tracker) (*terrain.RGBTileSource, error) {
	rc := cfg.Terrain.RGBTiles
	if rc.Token == "" {
		return nil, errors.New("no token configured; set " + config.EnvTerrainToken)
	}
	client := request.New(nil, tr, request.Options{
		Retries:           cfg.Request.Retries,
		Timeout:           time.Duration(cfg.Request.Timeout),
		BaseDelay:         time.Duration(cfg.Request.Backoff.BaseDelay),
		MaxDelay:          time.Duration(cfg.Request.Backoff.MaxDelay),
		RequestsPerSecond: rc.RequestsPerSecond,
		Burst:             rc.Burst,
	})
	persist, err := cache.NewLayered(rc.TileCacheSize, st)
	if err != nil {
		return nil, err
	}
	return terrain.NewRGBTileSource(client, persist, terrain.RGBTileOptions{
		URLTemplate:     rc.URLTemplate,
		Token:           rc.Token,
		Zoom:            rc.Zoom,
		TileCacheSize:   rc.TileCacheSize,
		BreakerTimeout:  time.Duration(rc.BreakerTimeout),
		BreakerFailures: rc.BreakerFailures,
	})
}

func healthProbes(cfg *config.Config, dbConn *db.DB, oracle *terrain.Oracle) []probe.Probe {
	probes := []probe.Probe{
		probe.Database(dbConn.DB),
		// Mount Kosciuszko; any real source answers here.
		probe.Terrain(oracle, oracle, 148.2636, -36.4559),
	}
	if dir := filepath.Dir(cfg.Log.Server.Path); dir != "" {
		probes = append(probes, probe.WritableDir("Log Directory", dir))
	}
	return probes
}

func batteryThresholds(c config.BatteryConfig) battery.Thresholds {
	return battery.Thresholds{
		GroundVel:   c.GroundVel,
		CruiseVel:   c.CruiseVel,
		AltitudeMin: c.AltitudeMin,
		ClimbVz:     c.ClimbVz,
		DescendVz:   c.DescendVz,
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, orch *analysis.Orchestrator) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	if orch.Abort() {
		slog.Info("Aborted running analysis")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"flightassure/pkg/analysis"
	"flightassure/pkg/config"
	"flightassure/pkg/terrain"
	"flightassure/pkg/tier"
	"flightassure/pkg/tracker"
)

// globalOptions are the persistent flags shared by the analysis commands.
type globalOptions struct {
	configPath string
	etopo      string
	flat       float64
	useFlat    bool
	tier       string
	verbose    bool
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "config file (defaults are used when empty)")
	f.StringVar(&o.etopo, "etopo", "", "ETOPO1 binary grid (overrides the config)")
	f.Float64Var(&o.flat, "flat", 0, "use a flat terrain at this elevation instead of ETOPO1")
	f.StringVar(&o.tier, "tier", "", "subscription tier limits to apply (community, commercial, enterprise)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "log progress and terrain fallbacks")
	cmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		o.useFlat = cmd.Flags().Changed("flat")
		level := slog.LevelWarn
		if o.verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	}
}

// env is a fully wired orchestrator with its terrain chain.
type env struct {
	cfg   *config.Config
	orch  *analysis.Orchestrator
	close func()
}

func (o *globalOptions) load() (*config.Config, error) {
	if o.configPath == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(o.configPath); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.Load(o.configPath)
}

func (o *globalOptions) newEnv(progress io.Writer) (*env, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	if o.tier != "" {
		if _, err := tier.Lookup(o.tier); err != nil {
			return nil, err
		}
		cfg.Tier.Default = o.tier
	}

	closer := func() {}
	var primary terrain.Source
	switch {
	case o.useFlat:
		primary = terrain.FlatSource(o.flat)
	default:
		path := cfg.Terrain.ElevationFile
		if o.etopo != "" {
			path = o.etopo
		}
		grid, err := terrain.OpenGrid(path)
		if err != nil {
			return nil, fmt.Errorf("open terrain %s: %w (use --flat for offline runs)", path, err)
		}
		primary = grid
		closer = func() { _ = grid.Close() }
	}

	oracle, err := terrain.NewOracle(primary, nil, tracker.New(), terrain.OracleOptions{
		Retries:         1,
		Default:         cfg.Terrain.DefaultElevation,
		CacheResolution: cfg.Terrain.CacheResolution,
		CacheSize:       cfg.Terrain.CacheSize,
	})
	if err != nil {
		closer()
		return nil, err
	}

	prov := config.NewProvider(cfg, nil)
	orch := analysis.New(analysis.Deps{
		Elevator:  oracle,
		Readiness: oracle,
		Config:    prov,
		Limits:    tier.NewService(prov, nil),
		Progress: analysis.ProgressFunc(func(_ string, pct int) {
			if progress != nil {
				fmt.Fprintf(progress, "\rprogress %3d%%", pct)
				if pct >= 100 {
					fmt.Fprintln(progress)
				}
			}
		}),
	})
	return &env{cfg: cfg, orch: orch, close: closer}, nil
}

func (e *env) run(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	res, err := e.orch.Run(ctx, req)
	if err != nil {
		var ae *analysis.Error
		if errors.As(err, &ae) {
			return nil, fmt.Errorf("%s: %s", ae.Kind, ae.Message)
		}
		return nil, err
	}
	return res, nil
}

// parseFloats parses a comma separated list of exactly n numbers.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%q: want %d comma separated numbers", s, n)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

// parseStation parses lon,lat,offset,range,resolution.
func parseStation(s string, typ analysis.StationType, id string) (analysis.Station, error) {
	v, err := parseFloats(s, 5)
	if err != nil {
		return analysis.Station{}, err
	}
	return analysis.Station{
		ID:              id,
		Type:            typ,
		Lon:             v[0],
		Lat:             v[1],
		ElevationOffset: v[2],
		Range:           v[3],
		GridResolution:  v[4],
	}, nil
}

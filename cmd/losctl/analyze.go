package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flightassure/pkg/analysis"
	"flightassure/pkg/export"
	"flightassure/pkg/terrain"
)

// outputOptions selects where a grid result is written.
type outputOptions struct {
	json      bool
	geojson   string
	shapefile string
}

func (o *outputOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print the full result as JSON")
	cmd.Flags().StringVar(&o.geojson, "geojson", "", "write the cells to this GeoJSON file")
	cmd.Flags().StringVar(&o.shapefile, "shapefile", "", "write the cells to this .shp file (with .shx/.dbf/.prj)")
}

func (o *outputOptions) write(w io.Writer, res *analysis.Result) error {
	if o.geojson != "" {
		data, err := export.GeoJSON(res)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.geojson, data, 0o644); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
	}
	if o.shapefile != "" {
		path := o.shapefile
		if filepath.Ext(path) == "" {
			path += ".shp"
		}
		if err := export.WriteShapefile(path, res.Cells); err != nil {
			return err
		}
	}

	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(w, res)
	return nil
}

func printSummary(w io.Writer, res *analysis.Result) {
	s := res.Stats
	fmt.Fprintf(w, "run        %s (%s)\n", res.ID, res.Type)
	fmt.Fprintf(w, "cells      %d\n", s.TotalCells)
	fmt.Fprintf(w, "visible    %d\n", s.VisibleCells)
	fmt.Fprintf(w, "average    %.1f%%\n", s.AverageVisibility)
	if s.LowConfidenceCells > 0 {
		fmt.Fprintf(w, "warning    %d cells used the default elevation\n", s.LowConfidenceCells)
	}
	fmt.Fprintf(w, "elapsed    %d ms\n", s.ElapsedMS)
	if fp := res.FlightPath; fp != nil {
		fmt.Fprintf(w, "path       %.0f/%.0f m visible (%.1f%%)\n", fp.VisibleLength, fp.TotalLength, fp.VisiblePercent())
	}
	if res.StationLOS != nil {
		printLOS(w, *res.StationLOS)
	}
}

func printLOS(w io.Writer, r terrain.LOSResult) {
	fmt.Fprintf(w, "distance   %.0f m\n", r.TotalDistance)
	if r.Clear {
		fmt.Fprintln(w, "los        clear")
	} else {
		fmt.Fprintf(w, "los        blocked at %.0f m (%.0f%% along)\n", *r.ObstructionDistance, *r.ObstructionFraction*100)
	}
	if r.LowConfidence {
		fmt.Fprintln(w, "warning    terrain fell back to the default elevation on part of the profile")
	}
}

func newStationCmd(g *globalOptions) *cobra.Command {
	var (
		out      outputOptions
		station  string
		typeName string
	)
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Grid visibility around one station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseStation(station, analysis.ParseStationType(typeName), "station-1")
			if err != nil {
				return err
			}
			return runGrid(cmd, g, &out, analysis.Request{Type: analysis.TypeStation, Stations: []analysis.Station{st}})
		},
	}
	cmd.Flags().StringVar(&station, "station", "", "lon,lat,offset,range,resolution (meters)")
	cmd.Flags().StringVar(&typeName, "type", string(analysis.StationGround), "primary-ground-station, observer or repeater")
	_ = cmd.MarkFlagRequired("station")
	out.bind(cmd)
	return cmd
}

func newMergedCmd(g *globalOptions) *cobra.Command {
	var (
		out      outputOptions
		stations []string
	)
	cmd := &cobra.Command{
		Use:   "merged",
		Short: "Combined visibility of several stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := analysis.Request{Type: analysis.TypeMerged}
			for i, s := range stations {
				st, err := parseStation(s, analysis.StationGround, fmt.Sprintf("station-%d", i+1))
				if err != nil {
					return err
				}
				req.Stations = append(req.Stations, st)
			}
			return runGrid(cmd, g, &out, req)
		},
	}
	cmd.Flags().StringArrayVar(&stations, "station", nil, "lon,lat,offset,range,resolution; repeat per station")
	_ = cmd.MarkFlagRequired("station")
	out.bind(cmd)
	return cmd
}

func newPathCmd(g *globalOptions) *cobra.Command {
	var (
		out        outputOptions
		points     []string
		stations   []string
		margin     float64
		resolution float64
	)
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Terrain clearance along a flight path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := analysis.Request{Type: analysis.TypeFlightPath, Margin: margin, GridResolution: resolution}
			for _, p := range points {
				v, err := parseFloats(p, 3)
				if err != nil {
					return err
				}
				req.FlightPath = append(req.FlightPath, terrain.Position3D{Lon: v[0], Lat: v[1], Elevation: v[2]})
			}
			for i, s := range stations {
				st, err := parseStation(s, analysis.StationGround, fmt.Sprintf("station-%d", i+1))
				if err != nil {
					return err
				}
				req.Stations = append(req.Stations, st)
			}
			return runGrid(cmd, g, &out, req)
		},
	}
	cmd.Flags().StringArrayVar(&points, "point", nil, "lon,lat,altitude AMSL; repeat in flight order")
	cmd.Flags().StringArrayVar(&stations, "station", nil, "optional ground station for path coverage")
	cmd.Flags().Float64Var(&margin, "margin", 0, "corridor margin in meters (config default when 0)")
	cmd.Flags().Float64Var(&resolution, "res", 0, "grid resolution in meters (config default when 0)")
	_ = cmd.MarkFlagRequired("point")
	out.bind(cmd)
	return cmd
}

func newLOSCmd(g *globalOptions) *cobra.Command {
	var from, to string
	var profile bool
	cmd := &cobra.Command{
		Use:   "los",
		Short: "Line of sight between two stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := parseFloats(from, 3)
			if err != nil {
				return err
			}
			b, err := parseFloats(to, 3)
			if err != nil {
				return err
			}
			e, err := g.newEnv(nil)
			if err != nil {
				return err
			}
			defer e.close()

			res, prof, err := e.orch.CheckStationToStationLOS(cmd.Context(),
				analysis.Station{ID: "a", Type: analysis.StationGround, Lon: a[0], Lat: a[1], ElevationOffset: a[2]},
				analysis.Station{ID: "b", Type: analysis.StationObserver, Lon: b[0], Lat: b[1], ElevationOffset: b[2]})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printLOS(w, res)
			if profile {
				fmt.Fprintln(w, "\ndistance\tterrain\tline")
				for _, p := range prof {
					fmt.Fprintf(w, "%.0f\t%.1f\t%.1f\n", p.Distance, p.Terrain, p.LineOfSight)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "lon,lat,offset of the first station")
	cmd.Flags().StringVar(&to, "to", "", "lon,lat,offset of the second station")
	cmd.Flags().BoolVar(&profile, "profile", false, "print the sampled terrain profile")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runGrid(cmd *cobra.Command, g *globalOptions, out *outputOptions, req analysis.Request) error {
	var progress io.Writer
	if g.verbose {
		progress = cmd.ErrOrStderr()
	}
	e, err := g.newEnv(progress)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.run(cmd.Context(), req)
	if err != nil {
		return err
	}
	if (out.geojson != "" || out.shapefile != "") && len(res.Cells) == 0 {
		return export.ErrNothingToExport
	}
	return out.write(cmd.OutOrStdout(), res)
}

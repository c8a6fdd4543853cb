package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"flightassure/pkg/battery"
	"flightassure/pkg/export"
)

func newBatteryCmd() *cobra.Command {
	var (
		asJSON bool
		th     = battery.DefaultThresholds()
	)
	cmd := &cobra.Command{
		Use:   "battery <telemetry.csv>",
		Short: "Battery draw per flight phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			samples, err := battery.ReadCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			rep, err := battery.Analyze(samples, th)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHASE\tTIME (s)\tDRAW (mAh)\tRATE (mAh/s)\tVS AVG (%)\tTIME (%)")
			for _, p := range rep.Phases {
				fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.3f\t%+.1f\t%.1f\n",
					p.Phase, p.TotalTime, p.TotalDraw, p.AvgDrawRate, p.DiffOfAvg, p.PctTimeOfFlight)
			}
			fmt.Fprintf(tw, "TOTAL\t%.1f\t%.1f\t%.3f\t\t\n", rep.TotalTime, rep.TotalDraw, rep.AvgDrawRate)
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%.2f mAh per minute over %d segments\n", rep.DrawPerMinute, len(rep.Segments))
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print the report as JSON")
	f.Float64Var(&th.GroundVel, "ground-vel", th.GroundVel, "speed below which the drone is stationary (m/s)")
	f.Float64Var(&th.CruiseVel, "cruise-vel", th.CruiseVel, "horizontal speed above which the drone cruises (m/s)")
	f.Float64Var(&th.AltitudeMin, "altitude-min", th.AltitudeMin, "altitude below which the drone is on the ground (m)")
	f.Float64Var(&th.ClimbVz, "climb-vz", th.ClimbVz, "vertical speed below which the drone climbs (m/s, NED)")
	f.Float64Var(&th.DescendVz, "descend-vz", th.DescendVz, "vertical speed above which the drone descends (m/s, NED)")
	return cmd
}

func newShp2GeoJSONCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shp2geojson <input.shp> <output.geojson>",
		Short: "Convert a shapefile to GeoJSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := export.ReadShapefile(args[0])
			if err != nil {
				return err
			}
			data, err := json.Marshal(fc)
			if err != nil {
				return fmt.Errorf("failed to marshal geojson: %w", err)
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %d features to %s\n", len(fc.Features), args[1])
			return nil
		},
	}
}

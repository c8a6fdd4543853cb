// Command losctl runs one-shot visibility analyses, line-of-sight checks and
// battery reports without starting the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "losctl",
		Short: "Drone flight-risk visibility tools",
		Long: `losctl runs grid visibility analyses against the same terrain chain as
the server and writes results as JSON, GeoJSON or shapefiles.

Examples:
  losctl station --lon 151.2 --lat -33.9 --range 3000 --res 50 --geojson out.geojson
  losctl los --from 151.2,-33.9,30 --to 151.25,-33.88,2
  losctl battery flight.csv
  losctl shp2geojson coverage.shp coverage.geojson`,
		SilenceUsage: true,
	}
	opts.bind(root)

	root.AddCommand(
		newStationCmd(opts),
		newMergedCmd(opts),
		newPathCmd(opts),
		newLOSCmd(opts),
		newBatteryCmd(),
		newShp2GeoJSONCmd(),
	)
	return root
}

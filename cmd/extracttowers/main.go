// Command extracttowers converts an ACMA RRL export into a tower GeoJSON
// file and, optionally, loads it into the application database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"flightassure/pkg/db"
	"flightassure/pkg/store"
	"flightassure/pkg/towers"
)

func main() {
	inputDir := flag.String("input", "data/spectra_rrl", "Directory holding the RRL CSV export")
	outputPath := flag.String("output", "data/towers.geojson", "Path to output .geojson file")
	dbPath := flag.String("db", "", "Also replace the towers table in this database")
	flag.Parse()

	if *inputDir == "" || *outputPath == "" {
		flag.Usage()
		log.Fatal("Input and output paths are required")
	}

	if err := run(context.Background(), os.Stdout, *inputDir, *outputPath, *dbPath); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, w io.Writer, inputDir, outputPath, dbPath string) error {
	list, err := towers.Extract(inputDir)
	if err != nil {
		return fmt.Errorf("failed to extract towers: %w", err)
	}
	if err := towers.WriteGeoJSON(outputPath, list); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d towers to %s\n", len(list), outputPath)

	byCarrier, byTech := towers.Stats(list)
	printCounts(w, "Carrier", byCarrier)
	printCounts(w, "Technology", byTech)

	if dbPath == "" {
		return nil
	}
	d, err := db.Init(dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	records := make([]store.TowerRecord, len(list))
	for i := range list {
		records[i] = list[i].Record()
	}
	if err := store.NewSQLiteStore(d).ReplaceTowers(ctx, records); err != nil {
		return fmt.Errorf("failed to store towers: %w", err)
	}
	fmt.Fprintf(w, "Loaded %d towers into %s\n", len(records), dbPath)
	return nil
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %d\n", k, counts[k])
	}
}

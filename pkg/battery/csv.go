package battery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// column aliases accepted in the CSV header, lower-cased.
var columns = map[string][]string{
	"timestamp": {"timestamp", "timestamp_us"},
	"vx":        {"vx"},
	"vy":        {"vy"},
	"vz":        {"vz"},
	"z":         {"z"},
	"voltage":   {"voltage", "voltage_v"},
	"current":   {"current", "current_a"},
}

// ReadCSV parses merged telemetry with a header row. Timestamps are in
// microseconds and are rebased so the earliest row is at 0 s.
func ReadCSV(r io.Reader) ([]Sample, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var (
		out   []Sample
		stamp []float64
		line  = 1
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		vals := make(map[string]float64, len(idx))
		for name, i := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
			vals[name] = v
		}
		stamp = append(stamp, vals["timestamp"])
		out = append(out, Sample{
			Vx:      vals["vx"],
			Vy:      vals["vy"],
			Vz:      vals["vz"],
			Z:       vals["z"],
			Voltage: vals["voltage"],
			Current: vals["current"],
		})
	}

	if len(out) == 0 {
		return nil, ErrNotEnoughSamples
	}
	t0 := stamp[0]
	for _, t := range stamp {
		if t < t0 {
			t0 = t
		}
	}
	for i := range out {
		out[i].Time = (stamp[i] - t0) / 1e6
	}
	return out, nil
}

func headerIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		pos[h] = i
	}

	idx := make(map[string]int, len(columns))
	var missing []string
	for name, aliases := range columns {
		found := false
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[name] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

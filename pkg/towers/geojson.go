package towers

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flightassure/pkg/store"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature converts a tower to a GeoJSON point feature.
func (t *Tower) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{t.Lon, t.Lat})
	p := geojson.Properties{
		"id":           t.ID,
		"name":         t.Name,
		"carrier":      t.Carrier,
		"carriers":     t.Carriers,
		"technology":   t.Technology,
		"technologies": t.Technologies,
		"state":        t.State,
		"postcode":     t.Postcode,
		"elevation":    t.Elevation,
		"licence_nos":  t.LicenceNos,
	}
	if t.Height != nil {
		p["height"] = *t.Height
	}
	if t.Frequency != nil {
		p["frequency"] = *t.Frequency
	}
	if t.Azimuth != nil {
		p["azimuth"] = *t.Azimuth
	}
	if t.Emission != "" {
		p["emission"] = t.Emission
	}
	if t.EIRP != nil {
		p["eirp"] = *t.EIRP
		p["eirp_unit"] = t.EIRPUnit
	}
	f.Properties = p
	return f
}

// Record converts a tower to its persisted form.
func (t *Tower) Record() store.TowerRecord {
	r := store.TowerRecord{
		ID:         t.ID,
		Name:       t.Name,
		Lat:        t.Lat,
		Lon:        t.Lon,
		Carrier:    t.Carrier,
		Technology: t.Technology,
		Elevation:  t.Elevation,
		State:      t.State,
	}
	if t.Height != nil {
		r.Height = *t.Height
	}
	return r
}

// FromRecord restores a tower from its persisted form. Licence details
// that are not persisted stay empty.
func FromRecord(r store.TowerRecord) Tower {
	t := Tower{
		ID:         r.ID,
		Name:       r.Name,
		Lat:        r.Lat,
		Lon:        r.Lon,
		Carrier:    r.Carrier,
		Technology: r.Technology,
		Elevation:  r.Elevation,
		State:      r.State,
	}
	if r.Carrier != "" {
		t.Carriers = []string{r.Carrier}
	}
	if r.Technology != "" {
		t.Technologies = []string{r.Technology}
	}
	if r.Height > 0 {
		h := r.Height
		t.Height = &h
	}
	return t
}

// FeatureCollection builds the tower GeoJSON document with generation metadata.
func FeatureCollection(towers []Tower, now time.Time) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range towers {
		fc.Append(towers[i].Feature())
	}
	fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]any{
			"generatedAt": now.UTC().Format(time.RFC3339),
			"towerCount":  len(towers),
		},
	}
	return fc
}

// WriteGeoJSON writes the collection to path, creating parent directories.
func WriteGeoJSON(path string, towers []Tower) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	data, err := FeatureCollection(towers, time.Now()).MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal towers: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

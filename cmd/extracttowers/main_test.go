package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightassure/pkg/db"
	"flightassure/pkg/store"
	"flightassure/pkg/towers"
)

func writeRRL(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		towers.ClientFile:  "CLIENT_NO,LICENCEE\n1104504,Telstra Limited\n",
		towers.LicenceFile: "LICENCE_NO,CLIENT_NO,LICENCE_TYPE_NAME\nL1,1104504,Spectrum\n",
		towers.SiteFile:    "SITE_ID,NAME,LATITUDE,LONGITUDE,STATE,POSTCODE,ELEVATION\nS1,Black Mountain,-35.2753,149.0972,ACT,2601,812\n",
		towers.DeviceFile:  "LICENCE_NO,SITE_ID,FREQUENCY,EMISSION,HEIGHT,AZIMUTH,EIRP,EIRP_UNIT\nL1,S1,758000000,,60,120,250,W\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRun(t *testing.T) {
	out := t.TempDir()
	geo := filepath.Join(out, "towers.geojson")
	dbPath := filepath.Join(out, "towers.db")

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), &buf, writeRRL(t), geo, dbPath))
	assert.Contains(t, buf.String(), "Wrote 1 towers")
	assert.Contains(t, buf.String(), towers.CarrierTelstra)
	assert.FileExists(t, geo)

	d, err := db.Init(dbPath)
	require.NoError(t, err)
	defer d.Close()
	recs, err := store.NewSQLiteStore(d).TowersInBounds(context.Background(), -36, -35, 149, 150)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0].ID)
}

func TestRun_MissingExport(t *testing.T) {
	err := run(context.Background(), &bytes.Buffer{}, t.TempDir(), filepath.Join(t.TempDir(), "x.geojson"), "")
	assert.Error(t, err)
}

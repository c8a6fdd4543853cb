// Package towers extracts mobile network tower sites from the ACMA
// Register of Radiocommunications Licences (RRL) CSV export.
package towers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// RRL file names inside the export directory.
const (
	SiteFile    = "site.csv"
	LicenceFile = "licence.csv"
	DeviceFile  = "device_details.csv"
	ClientFile  = "client.csv"
)

// Tower is one site carrying at least one mobile licence device.
type Tower struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Lat          float64  `json:"-"`
	Lon          float64  `json:"-"`
	Carrier      string   `json:"carrier"`
	Carriers     []string `json:"carriers"`
	Technology   string   `json:"technology"`
	Technologies []string `json:"technologies"`
	State        string   `json:"state"`
	Postcode     string   `json:"postcode"`
	Elevation    *float64 `json:"elevation"`
	LicenceNos   []string `json:"licence_nos"`
	Height       *float64 `json:"height,omitempty"`
	Frequency    *int64   `json:"frequency,omitempty"`
	Azimuth      *float64 `json:"azimuth,omitempty"`
	Emission     string   `json:"emission,omitempty"`
	EIRP         *float64 `json:"eirp,omitempty"`
	EIRPUnit     string   `json:"eirp_unit,omitempty"`
}

// row gives header-indexed access to a CSV record.
type row struct {
	idx    map[string]int
	record []string
}

func (r row) get(col string) string {
	if i, ok := r.idx[col]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

// eachRow streams a CSV file, calling fn for every data row.
func eachRow(path string, fn func(r row)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", filepath.Base(path), err)
	}
	// Strip UTF-8 BOM
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv read error in %s: %w", filepath.Base(path), err)
		}
		fn(row{idx: idx, record: rec})
	}
}

type licence struct {
	clientNo string
}

type device struct {
	licenceNo string
	frequency string
	emission  string
	height    string
	azimuth   string
	eirp      string
	eirpUnit  string
}

type site struct {
	name, state, postcode, elevation string
	lat, lon                         float64
}

// Extract reads the RRL export in dir and returns the mobile tower sites,
// ordered by site ID. client.csv is optional.
func Extract(dir string) ([]Tower, error) {
	clients := make(map[string]string) // CLIENT_NO -> LICENCEE
	err := eachRow(filepath.Join(dir, ClientFile), func(r row) {
		clients[r.get("CLIENT_NO")] = r.get("LICENCEE")
	})
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		slog.Warn("Client file missing, carrier detection limited to client numbers", "dir", dir)
	}

	licences := make(map[string]licence)
	mobile := make(map[string]bool)
	err = eachRow(filepath.Join(dir, LicenceFile), func(r row) {
		no := r.get("LICENCE_NO")
		l := licence{clientNo: r.get("CLIENT_NO")}
		licences[no] = l
		if strings.Contains(r.get("LICENCE_TYPE_NAME"), "PTS") {
			mobile[no] = true
		} else if name, ok := clients[l.clientNo]; ok && isCarrierName(name) {
			mobile[no] = true
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load licences: %w", err)
	}
	slog.Info("Loaded licences", "total", len(licences), "mobile", len(mobile))

	sites := make(map[string]site)
	err = eachRow(filepath.Join(dir, SiteFile), func(r row) {
		lat, errLat := strconv.ParseFloat(r.get("LATITUDE"), 64)
		lon, errLon := strconv.ParseFloat(r.get("LONGITUDE"), 64)
		if errLat != nil || errLon != nil || (lat == 0 && lon == 0) {
			return
		}
		sites[r.get("SITE_ID")] = site{
			name:      r.get("NAME"),
			state:     r.get("STATE"),
			postcode:  r.get("POSTCODE"),
			elevation: r.get("ELEVATION"),
			lat:       lat,
			lon:       lon,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}

	siteDevices := make(map[string][]device)
	err = eachRow(filepath.Join(dir, DeviceFile), func(r row) {
		no := r.get("LICENCE_NO")
		siteID := r.get("SITE_ID")
		if !mobile[no] {
			return
		}
		if _, ok := sites[siteID]; !ok {
			return
		}
		siteDevices[siteID] = append(siteDevices[siteID], device{
			licenceNo: no,
			frequency: r.get("FREQUENCY"),
			emission:  r.get("EMISSION"),
			height:    r.get("HEIGHT"),
			azimuth:   r.get("AZIMUTH"),
			eirp:      r.get("EIRP"),
			eirpUnit:  r.get("EIRP_UNIT"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	slog.Info("Found sites with mobile devices", "count", len(siteDevices))

	out := make([]Tower, 0, len(siteDevices))
	for siteID, devices := range siteDevices {
		out = append(out, buildTower(siteID, sites[siteID], devices, licences, clients))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func buildTower(siteID string, s site, devices []device, licences map[string]licence, clients map[string]string) Tower {
	t := Tower{
		ID:       siteID,
		Name:     s.name,
		Lat:      s.lat,
		Lon:      s.lon,
		State:    s.state,
		Postcode: s.postcode,
	}
	if t.Name == "" {
		t.Name = "Tower " + siteID
	}
	if v, err := strconv.ParseFloat(s.elevation, 64); err == nil {
		t.Elevation = &v
	}

	var (
		carriers, techs, licNos orderedSet
		azimuths                []float64
		maxHeight, maxEIRP      *float64
	)
	for _, d := range devices {
		var freq int64
		if v, err := strconv.ParseInt(d.frequency, 10, 64); err == nil {
			freq = v
			if t.Frequency == nil {
				t.Frequency = &freq
			}
		}
		if d.emission != "" && t.Emission == "" {
			t.Emission = d.emission
		}
		if v, err := strconv.ParseFloat(d.height, 64); err == nil && (maxHeight == nil || v > *maxHeight) {
			maxHeight = &v
		}
		if v, err := strconv.ParseFloat(d.azimuth, 64); err == nil {
			azimuths = append(azimuths, v)
		}
		if v, err := strconv.ParseFloat(d.eirp, 64); err == nil && (maxEIRP == nil || v > *maxEIRP) {
			maxEIRP = &v
		}

		clientNo := licences[d.licenceNo].clientNo
		name := clients[clientNo]
		if name == "" {
			name = s.name
		}
		carriers.add(DetermineCarrier(clientNo, name))
		techs.add(DetermineTechnology(freq, d.emission, s.name))
		licNos.add(d.licenceNo)
	}

	t.Carriers = carriers.items
	t.Technologies = techs.items
	t.LicenceNos = licNos.items
	t.Carrier = CarrierOther
	if len(t.Carriers) > 0 {
		t.Carrier = t.Carriers[0]
	}
	t.Technology = "unknown"
	if len(t.Technologies) > 0 {
		t.Technology = t.Technologies[0]
	}
	t.Height = maxHeight
	if len(azimuths) > 0 {
		az := mostCommon(azimuths)
		t.Azimuth = &az
	}
	if maxEIRP != nil {
		t.EIRP = maxEIRP
		t.EIRPUnit = devices[len(devices)-1].eirpUnit
		if t.EIRPUnit == "" {
			t.EIRPUnit = "W"
		}
	}
	return t
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if !s.seen[v] {
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

// mostCommon returns the modal value; ties go to the value seen first.
func mostCommon(vals []float64) float64 {
	counts := make(map[float64]int, len(vals))
	best, bestN := vals[0], 0
	for _, v := range vals {
		counts[v]++
	}
	for _, v := range vals {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}

// Stats counts towers by primary carrier and primary technology.
func Stats(towers []Tower) (byCarrier, byTechnology map[string]int) {
	byCarrier = make(map[string]int)
	byTechnology = make(map[string]int)
	for i := range towers {
		byCarrier[towers[i].Carrier]++
		byTechnology[towers[i].Technology]++
	}
	return byCarrier, byTechnology
}

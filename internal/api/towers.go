package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flightassure/pkg/store"
	"flightassure/pkg/towers"
)

// TowersHandler serves imported mobile tower sites.
type TowersHandler struct {
	store store.TowerStore
}

func NewTowersHandler(s store.TowerStore) *TowersHandler {
	return &TowersHandler{store: s}
}

// HandleList returns towers inside ?bbox=minLon,minLat,maxLon,maxLat.
func (h *TowersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.inBounds(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleStations returns the towers in bbox as repeater stations with the
// given ?range and ?resolution in meters.
func (h *TowersHandler) HandleStations(w http.ResponseWriter, r *http.Request) {
	rng, err1 := floatParam(r, "range", 5000)
	res, err2 := floatParam(r, "resolution", 50)
	if err1 != nil || err2 != nil || rng <= 0 || res <= 0 {
		writeError(w, http.StatusBadRequest, "range and resolution must be positive numbers")
		return
	}
	recs, ok := h.inBounds(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, towers.RepeaterStations(recs, rng, res))
}

// HandleGeoJSON returns towers in bbox as a feature collection.
func (h *TowersHandler) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.inBounds(w, r)
	if !ok {
		return
	}
	ts := make([]towers.Tower, len(recs))
	for i, rec := range recs {
		ts[i] = towers.FromRecord(rec)
	}
	w.Header().Set("Content-Type", "application/geo+json")
	writeJSON(w, http.StatusOK, towers.FeatureCollection(ts, time.Now()))
}

func (h *TowersHandler) inBounds(w http.ResponseWriter, r *http.Request) ([]store.TowerRecord, bool) {
	b, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	recs, err := h.store.TowersInBounds(r.Context(), b[1], b[3], b[0], b[2])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if recs == nil {
		recs = []store.TowerRecord{}
	}
	return recs, true
}

// parseBBox parses minLon,minLat,maxLon,maxLat.
func parseBBox(s string) ([4]float64, error) {
	var b [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return b, fmt.Errorf("bbox value %q: %w", p, err)
		}
		b[i] = v
	}
	if b[0] > b[2] || b[1] > b[3] || b[1] < -90 || b[3] > 90 || b[0] < -180 || b[2] > 180 {
		return b, fmt.Errorf("bbox is out of range or inverted")
	}
	return b, nil
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

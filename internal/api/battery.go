package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"flightassure/pkg/battery"
	"flightassure/pkg/tier"
)

const maxTelemetryUpload = 64 << 20

// BatteryHandler analyses uploaded flight telemetry.
type BatteryHandler struct {
	tiers      *tier.Service
	thresholds battery.Thresholds
}

func NewBatteryHandler(t *tier.Service, th battery.Thresholds) *BatteryHandler {
	return &BatteryHandler{tiers: t, thresholds: th}
}

// HandleAnalyze accepts a CSV body, or a multipart form with a "file" part.
func (h *BatteryHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if h.tiers != nil && !h.tiers.Enabled(r.Context(), tier.FeatureBattery) {
		writeError(w, http.StatusForbidden, "battery analysis is not available on the current tier")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTelemetryUpload)
	var src io.Reader = r.Body
	if err := r.ParseMultipartForm(8 << 20); err == nil {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file part")
			return
		}
		defer f.Close()
		src = f
	}

	samples, err := battery.ReadCSV(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := battery.Analyze(samples, h.thresholds)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, battery.ErrNotEnoughSamples) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	slog.Info("Battery analysis complete", "samples", len(samples), "phases", len(rep.Phases), "total_mah", rep.TotalDraw)
	writeJSON(w, http.StatusOK, rep)
}

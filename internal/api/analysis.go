package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flightassure/pkg/analysis"
	"flightassure/pkg/export"
	"flightassure/pkg/store"
	"flightassure/pkg/terrain"
	"flightassure/pkg/tier"
)

// Runner is the subset of the orchestrator the handlers use.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	CheckStationToStationLOS(ctx context.Context, a, b analysis.Station) (terrain.LOSResult, []terrain.ProfilePoint, error)
	Abort() bool
	Status() analysis.Status
}

// AnalysisHandler serves analysis runs, their results and history.
type AnalysisHandler struct {
	runner  Runner
	results *ResultCache
	history store.AnalysisStore
	tiers   *tier.Service
	hub     *Hub
}

// NewAnalysisHandler creates the handler. history, tiers and hub may be nil.
func NewAnalysisHandler(r Runner, results *ResultCache, history store.AnalysisStore, tiers *tier.Service, hub *Hub) *AnalysisHandler {
	return &AnalysisHandler{runner: r, results: results, history: history, tiers: tiers, hub: hub}
}

// HandleRun runs an analysis and blocks until it finishes. Progress is
// pushed over the websocket; a client disconnect aborts the run.
func (h *AnalysisHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var body analysisRequest
	if !decodeJSON(w, r, &body) || !validateRequest(w, &body) {
		return
	}

	res, err := h.runner.Run(r.Context(), body.request())
	h.pushStatus()
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	h.results.Add(res)
	writeJSON(w, http.StatusOK, res)
}

// HandleAbort requests cancellation of the running analysis.
func (h *AnalysisHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if !h.runner.Abort() {
		writeError(w, http.StatusConflict, "no analysis is running")
		return
	}
	slog.Info("Analysis abort requested")
	w.WriteHeader(http.StatusAccepted)
}

// HandleStatus returns the orchestrator state.
func (h *AnalysisHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

// HandleResult returns a cached result by run ID.
func (h *AnalysisHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGeoJSON exports the cells of a cached result.
func (h *AnalysisHandler) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	if !h.exportAllowed(w, r) {
		return
	}
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	data, err := export.GeoJSON(res)
	if err != nil {
		h.exportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.geojson"`, res.ID))
	_, _ = w.Write(data)
}

// HandleShapefile exports the cells of a cached result as a zipped shapefile.
func (h *AnalysisHandler) HandleShapefile(w http.ResponseWriter, r *http.Request) {
	if !h.exportAllowed(w, r) {
		return
	}
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	if len(res.Cells) == 0 {
		h.exportError(w, export.ErrNothingToExport)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, res.ID))
	if err := export.WriteShapefileZip(w, "visibility-"+res.ID, res.Cells); err != nil {
		slog.Error("Shapefile export failed", "run_id", res.ID, "error", err)
	}
}

// HandleLOS checks line of sight between two stations without a grid.
func (h *AnalysisHandler) HandleLOS(w http.ResponseWriter, r *http.Request) {
	var body losRequest
	if !decodeJSON(w, r, &body) || !validateRequest(w, &body) {
		return
	}
	res, profile, err := h.runner.CheckStationToStationLOS(r.Context(), body.From.station(), body.To.station())
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Result  terrain.LOSResult      `json:"result"`
		Profile []terrain.ProfilePoint `json:"profile"`
	}{res, profile})
}

// HandleHistory lists recent runs.
func (h *AnalysisHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, []*store.AnalysisRecord{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := h.history.ListAnalysisRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleHistoryRun returns one persisted run summary.
func (h *AnalysisHandler) HandleHistoryRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	rec, err := h.history.GetAnalysisRun(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case rec == nil:
		writeError(w, http.StatusNotFound, "run not found")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *AnalysisHandler) result(w http.ResponseWriter, r *http.Request) (*analysis.Result, bool) {
	id := chi.URLParam(r, "id")
	res, ok := h.results.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "result not found or expired: "+id)
	}
	return res, ok
}

func (h *AnalysisHandler) exportAllowed(w http.ResponseWriter, r *http.Request) bool {
	if h.tiers == nil || h.tiers.Enabled(r.Context(), tier.FeatureExport) {
		return true
	}
	writeError(w, http.StatusForbidden, "export is not available on the current tier")
	return false
}

func (h *AnalysisHandler) exportError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrNothingToExport) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *AnalysisHandler) pushStatus() {
	if h.hub != nil {
		h.hub.Broadcast(Message{Type: MessageStatus, Data: h.runner.Status()})
	}
}

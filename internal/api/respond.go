package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"flightassure/pkg/analysis"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// writeAnalysisError maps an analysis failure to a status code.
func writeAnalysisError(w http.ResponseWriter, err error) {
	var ae *analysis.Error
	if !errors.As(err, &ae) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, analysis.ErrInProgress), errors.Is(err, analysis.ErrAborted):
		status = http.StatusConflict
	case ae.Kind == analysis.KindInvalidInput:
		status = http.StatusBadRequest
	case ae.Kind == analysis.KindMapInteraction:
		status = http.StatusServiceUnavailable
	case ae.Kind == analysis.KindGridGeneration:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorBody{Kind: string(ae.Kind), Message: ae.Message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

const maxJSONBody = 4 << 20

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flightassure/pkg/tier"
)

// TierHandler exposes the active tier and its feature flags.
type TierHandler struct {
	tiers *tier.Service
}

func NewTierHandler(t *tier.Service) *TierHandler {
	return &TierHandler{tiers: t}
}

type tierResponse struct {
	Active   tier.Plan             `json:"active"`
	Features map[tier.Feature]bool `json:"features"`
	Plans    []tier.Plan           `json:"plans"`
}

func (h *TierHandler) respond(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tierResponse{
		Active:   h.tiers.Active(r.Context()),
		Features: h.tiers.Features(r.Context()),
		Plans:    tier.Plans(),
	})
}

// HandleGet returns the active tier, effective features and all plans.
func (h *TierHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)
}

// HandleSet changes the active tier.
func (h *TierHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var body tierRequest
	if !decodeJSON(w, r, &body) || !validateRequest(w, &body) {
		return
	}
	if err := h.tiers.SetTier(r.Context(), body.Tier); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tier.ErrUnknownTier) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	h.respond(w, r)
}

// HandleSetFeature overrides one feature flag.
func (h *TierHandler) HandleSetFeature(w http.ResponseWriter, r *http.Request) {
	f, ok := h.feature(w, r)
	if !ok {
		return
	}
	var body featureRequest
	if !decodeJSON(w, r, &body) || !validateRequest(w, &body) {
		return
	}
	if err := h.tiers.SetFeature(r.Context(), f, *body.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respond(w, r)
}

// HandleClearFeature drops a feature flag override.
func (h *TierHandler) HandleClearFeature(w http.ResponseWriter, r *http.Request) {
	f, ok := h.feature(w, r)
	if !ok {
		return
	}
	if err := h.tiers.ClearFeature(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respond(w, r)
}

func (h *TierHandler) feature(w http.ResponseWriter, r *http.Request) (tier.Feature, bool) {
	f := tier.Feature(chi.URLParam(r, "name"))
	if _, known := h.tiers.Features(r.Context())[f]; !known {
		writeError(w, http.StatusNotFound, "unknown feature: "+string(f))
		return "", false
	}
	return f, true
}

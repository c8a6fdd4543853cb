package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"flightassure/pkg/analysis"
	"flightassure/pkg/terrain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// fieldError is one failed validation rule.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// validateRequest runs struct validation and writes a 400 on failure.
func validateRequest(w http.ResponseWriter, v any) bool {
	err := validatorInstance().Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	details := make([]fieldError, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Namespace(), Rule: fe.Tag(), Param: fe.Param()})
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	writeJSON(w, http.StatusBadRequest, errorBody{
		Kind:    string(analysis.KindInvalidInput),
		Message: strings.Join(msgs, "; "),
		Details: details,
	})
	return false
}

type stationDTO struct {
	ID              string  `json:"id" validate:"max=64"`
	Type            string  `json:"type" validate:"required,oneof=primary-ground-station ground-station observer repeater"`
	Lon             float64 `json:"lon" validate:"longitude"`
	Lat             float64 `json:"lat" validate:"latitude"`
	ElevationOffset float64 `json:"elevationOffset" validate:"gte=-500,lte=10000"`
	Range           float64 `json:"range" validate:"gte=0"`
	GridResolution  float64 `json:"gridResolution" validate:"gte=0"`
}

func (s stationDTO) station() analysis.Station {
	return analysis.Station{
		ID:              s.ID,
		Type:            analysis.ParseStationType(s.Type),
		Lon:             s.Lon,
		Lat:             s.Lat,
		ElevationOffset: s.ElevationOffset,
		Range:           s.Range,
		GridResolution:  s.GridResolution,
	}
}

type positionDTO struct {
	Lon       float64 `json:"lon" validate:"longitude"`
	Lat       float64 `json:"lat" validate:"latitude"`
	Elevation float64 `json:"elevation" validate:"gte=-500,lte=20000"`
}

// analysisRequest is the body of POST /api/analysis. The orchestrator
// applies the per-type rules; this only rejects malformed input.
type analysisRequest struct {
	Type           string        `json:"type" validate:"required,oneof=station merged flight_path station_to_station"`
	Stations       []stationDTO  `json:"stations" validate:"max=100,dive"`
	FlightPath     []positionDTO `json:"flightPath" validate:"max=20000,dive"`
	GridResolution float64       `json:"gridResolution" validate:"gte=0"`
	Margin         float64       `json:"margin" validate:"gte=0"`
}

func (a analysisRequest) request() analysis.Request {
	req := analysis.Request{
		Type:           analysis.Type(a.Type),
		GridResolution: a.GridResolution,
		Margin:         a.Margin,
	}
	for _, s := range a.Stations {
		req.Stations = append(req.Stations, s.station())
	}
	for _, p := range a.FlightPath {
		req.FlightPath = append(req.FlightPath, terrain.Position3D{Lon: p.Lon, Lat: p.Lat, Elevation: p.Elevation})
	}
	return req
}

// losRequest is the body of POST /api/los.
type losRequest struct {
	From stationDTO `json:"from"`
	To   stationDTO `json:"to"`
}

type tierRequest struct {
	Tier string `json:"tier" validate:"required,oneof=community commercial enterprise"`
}

type featureRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flightassure/pkg/probe"
	"flightassure/pkg/version"
)

// HealthFunc runs the health probes.
type HealthFunc func(ctx context.Context) []probe.Result

// Handlers are the endpoint groups served by the router. Nil groups are
// not mounted.
type Handlers struct {
	Analysis  *AnalysisHandler
	Tier      *TierHandler
	Battery   *BatteryHandler
	Towers    *TowersHandler
	Stats     *StatsHandler
	Hub       *Hub
	Health    HealthFunc
	StaticDir string
}

// NewServer creates the HTTP server. writeTimeout must exceed the longest
// analysis run because POST /api/analysis blocks until the run ends.
func NewServer(addr string, h Handlers, writeTimeout time.Duration, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(h, shutdown),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter wires all routes.
func NewRouter(h Handlers, shutdown func()) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth(h.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", handleVersion)
		r.Get("/log/latest", handleLatestLog)
		r.Get("/log/recent", handleRecentLogs)
		if h.Stats != nil {
			r.Method(http.MethodGet, "/stats", h.Stats)
		}
		if h.Hub != nil {
			r.Get("/ws", h.Hub.ServeWS)
		}

		if a := h.Analysis; a != nil {
			r.Post("/los", a.HandleLOS)
			r.Route("/analysis", func(r chi.Router) {
				r.Post("/", a.HandleRun)
				r.Post("/abort", a.HandleAbort)
				r.Get("/status", a.HandleStatus)
				r.Get("/history", a.HandleHistory)
				r.Get("/history/{id}", a.HandleHistoryRun)
				r.Get("/{id}", a.HandleResult)
				r.Get("/{id}/geojson", a.HandleGeoJSON)
				r.Get("/{id}/shapefile", a.HandleShapefile)
			})
		}

		if t := h.Tier; t != nil {
			r.Route("/tier", func(r chi.Router) {
				r.Get("/", t.HandleGet)
				r.Put("/", t.HandleSet)
				r.Put("/features/{name}", t.HandleSetFeature)
				r.Delete("/features/{name}", t.HandleClearFeature)
			})
		}

		if h.Battery != nil {
			r.Post("/battery", h.Battery.HandleAnalyze)
		}

		if t := h.Towers; t != nil {
			r.Route("/towers", func(r chi.Router) {
				r.Get("/", t.HandleList)
				r.Get("/geojson", t.HandleGeoJSON)
				r.Get("/stations", t.HandleStations)
			})
		}

		if shutdown != nil {
			r.Post("/shutdown", func(w http.ResponseWriter, r *http.Request) {
				slog.Info("Graceful shutdown initiated via API")
				w.WriteHeader(http.StatusAccepted)
				// Let the response flush before the server stops.
				go func() {
					time.Sleep(100 * time.Millisecond)
					shutdown()
				}()
			})
		}
	})

	if h.StaticDir != "" {
		r.Handle("/*", http.FileServer(&spaFileSystem{root: http.Dir(h.StaticDir)}))
	}
	return r
}

type healthResponse struct {
	Status string         `json:"status"`
	Checks []probe.Report `json:"checks"`
}

func handleHealth(fn HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fn == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: []probe.Report{}})
			return
		}
		results := fn(r.Context())
		resp := healthResponse{Status: "ok", Checks: make([]probe.Report, len(results))}
		for i, res := range results {
			resp.Checks[i] = res.Report()
			if res.Error != nil && resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
		status := http.StatusOK
		if !probe.Healthy(results) {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

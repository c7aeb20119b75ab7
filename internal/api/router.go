package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airmesh/aqpipeline/internal/core/health"
	corechimw "github.com/airmesh/aqpipeline/internal/core/middleware"
	"github.com/airmesh/aqpipeline/internal/ingest"
)

// NewRouter wires the ingestion endpoint, the spatial query endpoints,
// the websocket fanout, and the liveness/readiness/metrics probes
// under one chi mux.
func NewRouter(log *slog.Logger, h *Handlers, ingestHandler *ingest.Handler, checks map[string]health.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(corechimw.Recover())
	r.Use(corechimw.Logging(log))
	r.Use(corechimw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(checks))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/ws/anomalies", h.ServeWebSocket)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Post("/air_quality/ingest", ingestHandler.ServeHTTP)
		v1.Get("/air_quality/heatmap_data", h.instrument("/air_quality/heatmap_data", h.HeatmapData))
		v1.Get("/air_quality/location", h.instrument("/air_quality/location", h.Location))
		v1.Get("/air_quality/history/coordinates/{parameter}", h.instrument("/air_quality/history/coordinates", h.HistoryByCoordinates))
		v1.Get("/air_quality/history/{geohash}/{parameter}", h.instrument("/air_quality/history/geohash", h.HistoryByGeohash))
		v1.Get("/anomalies", h.instrument("/anomalies", h.Anomalies))
		v1.Get("/pollution_density", h.instrument("/pollution_density", h.PollutionDensity))
		v1.Post("/test/broadcast-anomaly", h.instrument("/test/broadcast-anomaly", h.TestBroadcastAnomaly))
	})

	return r
}

// Package api implements the spatial query endpoints: thin adapters
// over internal/store that parse and validate query parameters and map
// store errors onto the external error taxonomy. Handler shape
// (statusWriter, explicit validate-then-call-store) follows
// internal/ingest.Handler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/broker"
	"github.com/airmesh/aqpipeline/internal/core/apperr"
	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
	"github.com/airmesh/aqpipeline/internal/geohash"
	"github.com/airmesh/aqpipeline/internal/store"
	"github.com/airmesh/aqpipeline/internal/wshub"
)

const defaultWindow = time.Hour
const defaultHistoryWindow = 24 * time.Hour
const defaultHistoryStep = 5 * time.Minute
const defaultZoom = 5
const rawRowCap = 5000

// Publisher is the slice of broker.Publisher the test-broadcast endpoint depends on.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error
}

type Handlers struct {
	store             store.Store
	pub               Publisher
	hub               *wshub.Hub
	log               zerolog.Logger
	exchangeBroadcast string
	storagePrecision  int
}

func NewHandlers(st store.Store, pub Publisher, hub *wshub.Hub, log zerolog.Logger, exchangeBroadcast string, storagePrecision int) *Handlers {
	return &Handlers{
		store:             st,
		pub:               pub,
		hub:               hub,
		log:               log,
		exchangeBroadcast: exchangeBroadcast,
		storagePrecision:  storagePrecision,
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handlers) instrument(path string, fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, path, sw.code, time.Since(start).Seconds())
	}
}

// HeatmapData fetches raw points in the bbox and aggregates them into
// cells sized by the zoom->precision map.
func (h *Handlers) HeatmapData(w http.ResponseWriter, r *http.Request) {
	bb, err := parseBBox(r)
	if err != nil {
		writeError(w, err)
		return
	}
	window := parseDurationOr(r, "window", defaultWindow)
	zoom := parseIntOr(r, "zoom", defaultZoom)
	precision := geohash.AggregationPrecision(zoom)

	readings, err := h.store.QueryRawInBBox(r.Context(), bb, window, rawRowCap)
	if err != nil {
		writeError(w, apperr.StoreUnavailable("failed to query raw readings", err))
		return
	}

	points := store.AggregateByGeohash(readings, precision)
	writeJSON(w, http.StatusOK, points)
}

// Location delegates to latest-cell lookup with radius fallback.
func (h *Handlers) Location(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseLatLon(r)
	if err != nil {
		writeError(w, err)
		return
	}
	precision, err := parsePrecision(r, h.storagePrecision)
	if err != nil {
		writeError(w, err)
		return
	}
	window := parseDurationOr(r, "window", defaultWindow)

	reading, err := h.store.QueryLatestCell(r.Context(), lat, lon, precision, window)
	if err != nil {
		writeError(w, apperr.StoreUnavailable("failed to query latest cell", err))
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HistoryByCoordinates encodes (lat, lon, precision) into a geohash
// prefix and delegates to QueryHistory.
func (h *Handlers) HistoryByCoordinates(w http.ResponseWriter, r *http.Request) {
	param, err := parseParameter(chi.URLParam(r, "parameter"))
	if err != nil {
		writeError(w, err)
		return
	}
	lat, lon, err := parseLatLon(r)
	if err != nil {
		writeError(w, err)
		return
	}
	precision, err := parsePrecision(r, h.storagePrecision)
	if err != nil {
		writeError(w, err)
		return
	}
	window := parseDurationOr(r, "window", defaultHistoryWindow)
	step := parseDurationOr(r, "aggregate", defaultHistoryStep)

	prefix := geohash.Encode(lat, lon, precision)
	h.queryHistory(w, r, prefix, param, window, step)
}

// HistoryByGeohash skips the encode step, taking the cell prefix directly from the path.
func (h *Handlers) HistoryByGeohash(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "geohash")
	param, err := parseParameter(chi.URLParam(r, "parameter"))
	if err != nil {
		writeError(w, err)
		return
	}
	window := parseDurationOr(r, "window", defaultHistoryWindow)
	step := parseDurationOr(r, "aggregate", defaultHistoryStep)

	h.queryHistory(w, r, prefix, param, window, step)
}

func (h *Handlers) queryHistory(w http.ResponseWriter, r *http.Request, prefix string, param model.Parameter, window, step time.Duration) {
	points, err := h.store.QueryHistory(r.Context(), prefix, param, window, step)
	if err != nil {
		writeError(w, apperr.StoreUnavailable("failed to query history", err))
		return
	}
	if points == nil {
		points = []model.TimeSeriesPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// Anomalies defaults to the last 24h when both bounds are unset; with
// only start_time set, end is now; with only end_time set, start is
// end minus 24h.
func (h *Handlers) Anomalies(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start_time")
	endStr := r.URL.Query().Get("end_time")

	var start, end *time.Time
	var err error
	if startStr != "" {
		if start, err = parseTimeParam(startStr); err != nil {
			writeError(w, apperr.InvalidInput("invalid start_time", err))
			return
		}
	}
	if endStr != "" {
		if end, err = parseTimeParam(endStr); err != nil {
			writeError(w, apperr.InvalidInput("invalid end_time", err))
			return
		}
	}

	switch {
	case start == nil && end == nil:
		now := time.Now().UTC()
		e := now
		s := now.Add(-24 * time.Hour)
		start, end = &s, &e
	case start != nil && end == nil:
		e := time.Now().UTC()
		end = &e
	case start == nil && end != nil:
		s := end.Add(-24 * time.Hour)
		start = &s
	}

	anomalies, err := h.store.QueryAnomalies(r.Context(), start, end)
	if err != nil {
		writeError(w, apperr.StoreUnavailable("failed to query anomalies", err))
		return
	}
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// PollutionDensity delegates directly to QueryDensity.
func (h *Handlers) PollutionDensity(w http.ResponseWriter, r *http.Request) {
	bb, err := parseBBox(r)
	if err != nil {
		writeError(w, err)
		return
	}
	window := parseDurationOr(r, "window", defaultWindow)

	density, err := h.store.QueryDensity(r.Context(), bb, window)
	if err != nil {
		writeError(w, apperr.StoreUnavailable("failed to query pollution density", err))
		return
	}
	writeJSON(w, http.StatusOK, density)
}

// ServeWebSocket upgrades the connection and registers it with the hub.
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	wshub.ServeWS(h.hub, h.log, w, r)
}

// TestBroadcastAnomaly synthesizes a fixed anomaly and runs it through
// the same broadcast-exchange publish path a real detection uses, so
// the websocket fanout can be exercised without a live sensor reading.
func (h *Handlers) TestBroadcastAnomaly(w http.ResponseWriter, r *http.Request) {
	a := model.Anomaly{
		ID:          "test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Latitude:    40.4168,
		Longitude:   -3.7038,
		Timestamp:   time.Now().UTC(),
		Parameter:   model.ParamPM25,
		Value:       500,
		Description: "synthetic test anomaly for websocket fanout verification",
	}

	if err := h.pub.PublishJSON(r.Context(), h.exchangeBroadcast, "", a); err != nil {
		h.log.Error().Err(err).Msg("failed to publish test anomaly")
		writeError(w, apperr.PublishFailed("failed to publish test anomaly", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "test anomaly broadcast",
		"anomaly_id": a.ID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.KindInvalidInput), apperr.Is(err, apperr.KindBadParameter), apperr.Is(err, apperr.KindMalformed):
		code = http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		code = http.StatusNotFound
	case apperr.Is(err, apperr.KindStoreUnavailable), apperr.Is(err, apperr.KindPublishFailed), apperr.Is(err, apperr.KindTransient):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// ensure broker.Publisher satisfies Publisher without an import cycle in callers.
var _ Publisher = (*broker.Publisher)(nil)

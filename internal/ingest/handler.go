// Package ingest implements the HTTP ingestion endpoint: validate a
// reading and hand it to the broker for durable delivery to the
// worker. It never writes to the store and never stamps a timestamp;
// the worker owns both.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/core/apperr"
	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
)

// Publisher is the slice of broker.Publisher this handler depends on.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error
}

type Handler struct {
	log      zerolog.Logger
	pub      Publisher
	queueRaw string
}

func NewHandler(log zerolog.Logger, pub Publisher, queueRaw string) *Handler {
	return &Handler{log: log, pub: pub, queueRaw: queueRaw}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

	if r.Method != http.MethodPost {
		http.Error(sw, "method not allowed", http.StatusMethodNotAllowed)
		observability.ObserveHTTP(r.Method, "/ingest", sw.code, time.Since(start).Seconds())
		return
	}

	req, err := decodeIngestRequest(r)
	if err != nil {
		observability.IncIngest("invalid")
		http.Error(sw, err.Error(), http.StatusBadRequest)
		observability.ObserveHTTP(r.Method, "/ingest", sw.code, time.Since(start).Seconds())
		return
	}

	// the worker owns timestamping and persistence; this endpoint never
	// writes to the store and never stamps a timestamp itself.
	if err := h.pub.PublishJSON(r.Context(), "", h.queueRaw, req); err != nil {
		observability.IncIngest("publish_failed")
		h.log.Error().Err(err).Msg("failed to publish reading to raw queue")
		http.Error(sw, "failed to accept reading", http.StatusServiceUnavailable)
		observability.ObserveHTTP(r.Method, "/ingest", sw.code, time.Since(start).Seconds())
		return
	}

	observability.IncIngest("accepted")
	sw.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(sw).Encode(map[string]string{"status": "accepted"})
	observability.ObserveHTTP(r.Method, "/ingest", sw.code, time.Since(start).Seconds())
}

func decodeIngestRequest(r *http.Request) (model.IngestRequest, error) {
	var req model.IngestRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.IngestRequest{}, apperr.Malformed("invalid request body", err)
	}
	if err := validate(req); err != nil {
		return model.IngestRequest{}, err
	}
	return req, nil
}

func validate(req model.IngestRequest) error {
	if req.Latitude < -90 || req.Latitude > 90 {
		return apperr.InvalidInput("latitude must be in [-90,90]", errors.New("out of range"))
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return apperr.InvalidInput("longitude must be in [-180,180]", errors.New("out of range"))
	}
	if req.PM25 == nil && req.PM10 == nil && req.NO2 == nil && req.SO2 == nil && req.O3 == nil && req.CO == nil {
		return apperr.InvalidInput("reading must carry at least one pollutant value", nil)
	}
	for _, p := range []*float64{req.PM25, req.PM10, req.NO2, req.SO2, req.O3, req.CO} {
		if p != nil && *p < 0 {
			return apperr.InvalidInput("pollutant values must be non-negative", nil)
		}
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

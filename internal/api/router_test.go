package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/core/health"
	"github.com/airmesh/aqpipeline/internal/ingest"
)

func TestRouterServesLiveness(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	ingestHandler := ingest.NewHandler(zerolog.Nop(), &fakePublisher{}, "readings.raw")

	router := NewRouter(log, h, ingestHandler, map[string]health.Checker{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rr.Code)
	}
}

func TestRouterServesReadinessWithNoChecks(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	ingestHandler := ingest.NewHandler(zerolog.Nop(), &fakePublisher{}, "readings.raw")

	router := NewRouter(log, h, ingestHandler, map[string]health.Checker{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when no dependencies are registered, got %d", rr.Code)
	}
}

package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type fakePublisher struct {
	err      error
	lastBody interface{}
	calls    int
}

func (f *fakePublisher) PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error {
	f.calls++
	f.lastBody = v
	return f.err
}

func newTestHandler(pub Publisher) *Handler {
	return NewHandler(zerolog.Nop(), pub, "readings.raw")
}

func TestServeHTTPAcceptsValidReading(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	body := []byte(`{"latitude":41.01,"longitude":28.98,"pm25":12.5}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if pub.calls != 1 {
		t.Fatalf("expected one publish call, got %d", pub.calls)
	}
}

func TestServeHTTPRejectsMissingPollutants(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	body := []byte(`{"latitude":41.01,"longitude":28.98}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if pub.calls != 0 {
		t.Fatalf("expected no publish on invalid input, got %d calls", pub.calls)
	}
}

func TestServeHTTPRejectsOutOfRangeLatitude(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	body := []byte(`{"latitude":200,"longitude":28.98,"pm25":5}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestServeHTTPPublishFailureReturns503(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	h := newTestHandler(pub)

	body := []byte(`{"latitude":41.01,"longitude":28.98,"pm25":5}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestServeHTTPRejectsWrongMethod(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

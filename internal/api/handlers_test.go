package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/wshub"
)

var errTestPublish = errors.New("publish failed")

type fakeStore struct {
	readings  []model.Reading
	reading   *model.Reading
	density   *model.PollutionDensity
	anomalies []model.Anomaly
	points    []model.TimeSeriesPoint
	err       error

	gotStart, gotEnd *time.Time
}

func (f *fakeStore) WriteReading(context.Context, model.Reading, int) (bool, error) { return true, nil }
func (f *fakeStore) WriteAnomaly(context.Context, model.Anomaly) (bool, error)      { return true, nil }

func (f *fakeStore) QueryLatestCell(context.Context, float64, float64, int, time.Duration) (*model.Reading, error) {
	return f.reading, f.err
}
func (f *fakeStore) QueryRawInBBox(context.Context, model.BBox, time.Duration, int) ([]model.Reading, error) {
	return f.readings, f.err
}
func (f *fakeStore) QueryDensity(context.Context, model.BBox, time.Duration) (*model.PollutionDensity, error) {
	return f.density, f.err
}
func (f *fakeStore) QueryAnomalies(_ context.Context, start, end *time.Time) ([]model.Anomaly, error) {
	f.gotStart, f.gotEnd = start, end
	return f.anomalies, f.err
}
func (f *fakeStore) QueryHistory(context.Context, string, model.Parameter, time.Duration, time.Duration) ([]model.TimeSeriesPoint, error) {
	return f.points, f.err
}
func (f *fakeStore) Close() error { return nil }

type fakePublisher struct {
	err       error
	published int
}

func (f *fakePublisher) PublishJSON(context.Context, string, string, interface{}) error {
	f.published++
	return f.err
}

func newTestHandlers(st *fakeStore, pub *fakePublisher) *Handlers {
	return NewHandlers(st, pub, wshub.NewHub(st, zerolog.Nop()), zerolog.Nop(), "anomalies.broadcast", 7)
}

func withChiParams(r *http.Request, params map[string]string) *http.Request {
	ctx := chi.NewRouteContext()
	for k, v := range params {
		ctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}

func TestHeatmapDataAggregatesPoints(t *testing.T) {
	p1 := 10.0
	st := &fakeStore{readings: []model.Reading{
		{Latitude: 40.0, Longitude: -3.0, PM25: &p1},
		{Latitude: 40.0001, Longitude: -3.0001, PM25: &p1},
	}}
	h := newTestHandlers(st, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/air_quality/heatmap_data?min_lat=39&max_lat=41&min_lon=-4&max_lon=-2&zoom=5", nil)
	rr := httptest.NewRecorder()
	h.HeatmapData(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var points []model.AggregatedPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &points); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected both readings to land in one cell, got %d cells", len(points))
	}
}

func TestHeatmapDataRejectsInvertedBBox(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/air_quality/heatmap_data?min_lat=41&max_lat=39&min_lon=-4&max_lon=-2", nil)
	rr := httptest.NewRecorder()
	h.HeatmapData(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLocationReturnsNullWhenNoData(t *testing.T) {
	h := newTestHandlers(&fakeStore{reading: nil}, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/air_quality/location?lat=40&lon=-3", nil)
	rr := httptest.NewRecorder()
	h.Location(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "null\n" {
		t.Fatalf("expected null body, got %q", rr.Body.String())
	}
}

func TestLocationRejectsPrecisionOutOfRange(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/air_quality/location?lat=40&lon=-3&geohash_precision=15", nil)
	rr := httptest.NewRecorder()
	h.Location(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAnomaliesDefaultsToLast24Hours(t *testing.T) {
	st := &fakeStore{}
	h := newTestHandlers(st, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/anomalies", nil)
	rr := httptest.NewRecorder()
	h.Anomalies(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if st.gotStart == nil || st.gotEnd == nil {
		t.Fatal("expected both start and end to be inferred")
	}
	if got := st.gotEnd.Sub(*st.gotStart); got < 23*time.Hour || got > 25*time.Hour {
		t.Fatalf("expected roughly 24h window, got %s", got)
	}
}

func TestAnomaliesInfersEndFromStart(t *testing.T) {
	st := &fakeStore{}
	h := newTestHandlers(st, &fakePublisher{})
	start := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, "/anomalies?start_time="+start, nil)
	rr := httptest.NewRecorder()
	before := time.Now().UTC()
	h.Anomalies(rr, req)
	after := time.Now().UTC()

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if st.gotEnd == nil {
		t.Fatal("expected end to be inferred from start")
	}
	if st.gotEnd.Before(before) || st.gotEnd.After(after) {
		t.Fatalf("expected end to default to now, got %s (want between %s and %s)", st.gotEnd, before, after)
	}
}

func TestHistoryByCoordinatesRejectsUnknownParameter(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/air_quality/history/coordinates/bogus?lat=40&lon=-3", nil)
	req = withChiParams(req, map[string]string{"parameter": "bogus"})
	rr := httptest.NewRecorder()
	h.HistoryByCoordinates(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHistoryByGeohashReturnsPoints(t *testing.T) {
	st := &fakeStore{points: []model.TimeSeriesPoint{{Timestamp: time.Now(), Value: 12.5}}}
	h := newTestHandlers(st, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/air_quality/history/u4pruy/pm25", nil)
	req = withChiParams(req, map[string]string{"geohash": "u4pruy", "parameter": "pm25"})
	rr := httptest.NewRecorder()
	h.HistoryByGeohash(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var points []model.TimeSeriesPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &points); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
}

func TestPollutionDensityReturnsNullWhenNoData(t *testing.T) {
	h := newTestHandlers(&fakeStore{density: nil}, &fakePublisher{})
	req := httptest.NewRequest(http.MethodGet, "/pollution_density?min_lat=39&max_lat=41&min_lon=-4&max_lon=-2", nil)
	rr := httptest.NewRecorder()
	h.PollutionDensity(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "null\n" {
		t.Fatalf("expected null body, got %q", rr.Body.String())
	}
}

func TestTestBroadcastAnomalyPublishes(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandlers(&fakeStore{}, pub)
	req := httptest.NewRequest(http.MethodPost, "/test/broadcast-anomaly", nil)
	rr := httptest.NewRecorder()
	h.TestBroadcastAnomaly(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if pub.published != 1 {
		t.Fatalf("expected exactly one publish, got %d", pub.published)
	}
}

func TestTestBroadcastAnomalyPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errTestPublish}
	h := newTestHandlers(&fakeStore{}, pub)
	req := httptest.NewRequest(http.MethodPost, "/test/broadcast-anomaly", nil)
	rr := httptest.NewRecorder()
	h.TestBroadcastAnomaly(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

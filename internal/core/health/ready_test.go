package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct {
	ok  bool
	err error
}

func (f fakeChecker) Ready() (bool, error) { return f.ok, f.err }

func TestReadinessAllReady(t *testing.T) {
	h := Readiness(map[string]Checker{"store": fakeChecker{ok: true}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadinessOneDependencyDown(t *testing.T) {
	h := Readiness(map[string]Checker{
		"store":  fakeChecker{ok: true},
		"broker": fakeChecker{ok: false, err: errors.New("connection refused")},
	})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

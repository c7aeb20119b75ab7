package health

import (
	"encoding/json"
	"net/http"
)

// Checker reports whether a dependency (store, broker) can currently
// serve requests. The worker and API server each wire their own
// dependencies' Checkers into Readiness.
type Checker interface {
	Ready() (bool, error)
}

// Readiness reports 200 only if every checker reports ready; otherwise
// 503 with the error of every failing dependency, keyed by name.
func Readiness(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Errors map[string]string `json:"errors,omitempty"`
		}
		out := resp{Status: "ready"}
		errs := map[string]string{}
		for name, c := range checks {
			ok, err := c.Ready()
			if !ok {
				out.Status = "not_ready"
				if err != nil {
					errs[name] = err.Error()
				} else {
					errs[name] = "not ready"
				}
			}
		}
		if len(errs) > 0 {
			out.Errors = errs
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

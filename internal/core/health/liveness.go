package health

import "net/http"

// Liveness always returns 200 once the process is serving; container
// orchestrators use it to decide whether to restart the process at all.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
